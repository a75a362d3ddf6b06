// Package conversation holds the in-memory state for every channel or DM the
// bot participates in.
//
// # Conversation
//
// A Conversation tracks a rolling history of formatted message entries, the
// set of participants seen so far, and per-conversation configuration:
//
//   - HistoryLength: cap on retained entries (default 69)
//   - ReplyFrequency: probability of an unsolicited reply (default 0.05, 1.0 in DMs)
//   - Model: which generation backend model to use
//   - Prompt: the system prompt, with placeholders substituted at creation
//
// # Store
//
// The Store is the single source of truth during the process lifetime.
// All mutation flows through its methods:
//
//	store := conversation.NewStore(logger)
//	store.Create(conversation.CreateParams{ID: channelID, ...})
//	store.AppendMessage(channelID, conversation.Message{...})
//
// Every append trims from the oldest end so len(History) <= HistoryLength
// always holds. Setters validate their input and return the previous value;
// invalid input leaves state untouched and returns a sentinel error.
//
// Reads hand out deep copies, so snapshots taken for prompt building or
// persistence are safe to use while new messages keep arriving.
//
// Conversations are never deleted while the process runs: "forget" clears the
// history but preserves identity and configuration.
package conversation
