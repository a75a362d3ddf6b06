// Package admin routes prefix commands to conversation-store mutations.
//
// # Overview
//
// Admin commands arrive as ordinary chat messages starting with a configured
// prefix (default "fae;"). The router checks the author against a configured
// allowlist, then dispatches through an explicit command table built once at
// construction. Every dispatch resolves to a reply string: permission
// failures, unknown commands, and validation errors all come back as messages
// rather than silence.
//
// # Commands
//
//   - conversations - list all conversations in memory
//   - invite - initialize a conversation in a non-DM channel
//   - forget - clear a conversation's memory, current or by id
//   - model - get or set the model for a conversation
//   - frequency - get or set reply frequency (0-1) for a conversation
//   - history - get or set maximum history length for a conversation
//   - prompt - get or set the prompt for a conversation
//   - debug - toggle verbose prompt logging
//   - help - show available admin commands
//
// # Target resolution
//
// Mutation commands accept an optional leading argument naming a
// conversation; when it matches a known ID the command applies there,
// otherwise it applies to the channel the command arrived in.
//
// # Usage
//
//	router := admin.NewRouter(store, coordinator, initiate, admin.Config{
//	    Prefix: "fae;",
//	    Admins: []string{"fae"},
//	}, logger)
//	if router.Matches(msg.Content) {
//	    reply := router.Dispatch(ctx, &admin.Request{...})
//	}
package admin
