// Package llm is a thin client for an OpenRouter-compatible chat-completions
// API.
//
// One Generate call sends a system instruction and a user-turn payload to a
// named model and returns the generated text. Retry and prompt-shrinking
// policy live in the responder package; this client reports errors and moves
// on. The stop sequence cuts the completion off before the model starts
// inventing the next timestamped history line.
package llm
