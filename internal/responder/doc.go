// Package responder decides when the bot replies and runs generations.
//
// # Should-respond policy
//
// Checks run in order and the first hit wins:
//
//  1. Explicit platform mention
//  2. Bot name among the first three or last three words of the message
//  3. Uniform draw against the conversation's reply frequency
//
// # Generation
//
// The Coordinator guarantees at most one outstanding generation per
// conversation; callers check Busy before triggering and get ErrBusy on a
// race. While a generation is outstanding a typing indicator fires on a fixed
// interval and is cancelled exactly once when the generation resolves, on
// every exit path.
//
// # Failure handling
//
// A backend failure shrinks the stored history by a fixed step (oldest two
// entries), waits a delay proportional to the attempt count, and retries
// once. A second failure resolves to ErrGenerationFailed with the
// per-conversation retry counter reset; the platform glue turns that into a
// user-visible notice.
package responder
