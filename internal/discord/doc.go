// Package discord connects the conversation engine to the Discord gateway.
//
// # Message flow
//
// Handlers run synchronously on the dispatch goroutine so appends within one
// channel preserve arrival order. For each inbound message the bot filters
// out itself and leading-dot/comma messages, dispatches admin commands,
// auto-initializes DM conversations, records the message (synthesizing the
// referenced entry for replies), and hands the should-respond decision to the
// responder. Generation and persistence run in their own goroutines so intake
// never blocks on them.
//
// # Lifecycle
//
// Run connects the database, hydrates the store from persisted state, opens
// the gateway session, and schedules a periodic persistence flush. Shutdown
// flushes every conversation before closing the session and the database.
//
// # Sending
//
// Replies over the platform's 2000-character limit are chunked on newline
// boundaries where possible, never inside a rune.
package discord
