// Package store persists conversation state to SQLite.
//
// # Gateway
//
// The Gateway is the only component that touches the database. It is built to
// degrade, never to crash the process:
//
//   - Connect failure leaves the gateway disconnected; Save and LoadAll
//     become logged no-ops and the bot runs memory-only.
//   - Connectivity-class errors (locked database, reset connections,
//     exhausted pool) are retried up to 3 times with exponential backoff,
//     recreating the connection pool between attempts.
//   - Non-connectivity errors (malformed data, constraint violations)
//     propagate immediately.
//
// # Record layout
//
// One row per conversation: a metadata blob (configuration, participants,
// server context) and a history blob (ordered formatted entries), written
// atomically in a single transaction.
//
// # Merge-on-write
//
// Save guards against clobbering messages recorded by another process
// instance: when the persisted history is longer than the in-memory copy and
// the in-memory copy lacks the persisted copy's newest entry, only metadata is
// updated and the persisted history is left alone. A force flag bypasses the
// guard.
package store
