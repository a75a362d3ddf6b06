// ABOUTME: Admin command router dispatching prefix commands to conversation-store mutations
// ABOUTME: Explicit command map built at startup, no global registration side effects

package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/transfaeries/faebot/internal/conversation"
)

// InitiateFunc creates a conversation for the channel an "invite" command
// arrived in. Supplied by the platform glue, which owns the server metadata
// needed to build the initial prompt.
type InitiateFunc func(ctx context.Context, req *Request) (string, error)

// VerboseToggler flips verbose prompt logging (the "debug" command).
type VerboseToggler interface {
	ToggleVerbose() bool
}

// Request is one inbound admin command.
type Request struct {
	// ConversationID is the channel the command arrived in.
	ConversationID string

	// Author is the platform username of the requester.
	Author string

	// Content is the raw message text, prefix included.
	Content string
}

// Config holds router construction parameters.
type Config struct {
	// Prefix marks admin commands, e.g. "fae;".
	Prefix string

	// Admins lists usernames allowed to run commands.
	Admins []string
}

type command struct {
	run  func(ctx context.Context, req *Request, args []string) string
	help string
}

// Router maps command names to handlers. The mapping is constructed once at
// startup and passed by reference wherever it is needed.
type Router struct {
	prefix   string
	admins   map[string]struct{}
	store    *conversation.Store
	verbose  VerboseToggler
	initiate InitiateFunc
	logger   *slog.Logger
	commands map[string]command
}

// NewRouter builds the router with its full command table.
func NewRouter(store *conversation.Store, verbose VerboseToggler, initiate InitiateFunc, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[strings.TrimSpace(a)] = struct{}{}
	}

	r := &Router{
		prefix:   cfg.Prefix,
		admins:   admins,
		store:    store,
		verbose:  verbose,
		initiate: initiate,
		logger:   logger.With("component", "admin"),
	}
	r.commands = map[string]command{
		"conversations": {r.listConversations, "list all conversations in memory"},
		"invite":        {r.inviteConversation, "initialize a conversation in a non-DM channel"},
		"forget":        {r.forgetConversation, "clear a conversation's memory, current or by id"},
		"model":         {r.model, "get or set the model for a conversation"},
		"frequency":     {r.frequency, "get or set reply frequency (0-1) for a conversation"},
		"history":       {r.history, "get or set maximum history length for a conversation"},
		"prompt":        {r.prompt, "get or set the prompt for a conversation"},
		"debug":         {r.debug, "toggle verbose prompt logging"},
		"help":          {r.help, "show available admin commands"},
	}
	return r
}

// Matches reports whether the message is an admin command.
func (r *Router) Matches(content string) bool {
	return strings.HasPrefix(content, r.prefix)
}

// Dispatch runs the command and returns the reply text. Every dispatch
// resolves to a reply: unknown commands, permission failures, and validation
// errors all come back as messages rather than silence.
func (r *Router) Dispatch(ctx context.Context, req *Request) string {
	tokens := strings.Fields(req.Content)
	if len(tokens) == 0 {
		return "failed to recognise command"
	}
	name := strings.TrimPrefix(tokens[0], r.prefix)

	if _, ok := r.admins[req.Author]; !ok {
		r.logger.Info("admin command attempted whilst not admin", "author", req.Author, "command", name)
		return "You must be admin to use these commands"
	}

	cmd, ok := r.commands[name]
	if !ok {
		r.logger.Info("command not known", "content", req.Content)
		return fmt.Sprintf("failed to recognise command %s", req.Content)
	}

	r.logger.Info("admin command", "author", req.Author, "command", name, "conversation", req.ConversationID)
	return cmd.run(ctx, req, tokens[1:])
}

// resolveTarget picks the conversation a command applies to. If the first
// argument names a known conversation, it is the target and consumed;
// otherwise the command applies to the current channel.
func (r *Router) resolveTarget(req *Request, args []string) (string, []string) {
	if len(args) > 0 {
		if _, ok := r.store.Get(args[0]); ok {
			return args[0], args[1:]
		}
	}
	return req.ConversationID, args
}

func (r *Router) listConversations(_ context.Context, _ *Request, _ []string) string {
	list := r.store.List()
	if len(list) == 0 {
		return "there are no conversations in memory"
	}

	var b strings.Builder
	b.WriteString("here are the conversations I have in memory:\n")
	for _, s := range list {
		fmt.Fprintf(&b, "%s - %s - %d\n", s.ID, s.Name, s.Messages)
	}
	return b.String()
}

func (r *Router) inviteConversation(ctx context.Context, req *Request, _ []string) string {
	if _, ok := r.store.Get(req.ConversationID); ok {
		return fmt.Sprintf("conversation %s is already initialized", req.ConversationID)
	}
	reply, err := r.initiate(ctx, req)
	if err != nil {
		r.logger.Error("invite failed", "conversation", req.ConversationID, "error", err)
		return fmt.Sprintf("could not initialize conversation: %v", err)
	}
	return reply
}

func (r *Router) forgetConversation(_ context.Context, req *Request, args []string) string {
	if r.store.Len() == 0 {
		return "there are no conversations to forget"
	}

	target := req.ConversationID
	if len(args) > 0 {
		target = args[0]
		if _, ok := r.store.Get(target); !ok {
			return fmt.Sprintf("Conversation ID '%s' does not exist. Please provide a valid conversation ID.", target)
		}
	}

	if err := r.store.ClearHistory(target); err != nil {
		return fmt.Sprintf("Conversation ID '%s' does not exist. Please provide a valid conversation ID.", target)
	}
	return fmt.Sprintf("cleared conversation %s", target)
}

func (r *Router) model(_ context.Context, req *Request, args []string) string {
	target, args := r.resolveTarget(req, args)

	if len(args) == 0 {
		conv, ok := r.store.Get(target)
		if !ok {
			return fmt.Sprintf("Conversation %s not found", target)
		}
		return fmt.Sprintf("Current model for conversation %s: %s", target, conv.Model)
	}

	if _, err := r.store.SetModel(target, args[0]); err != nil {
		return fmt.Sprintf("Conversation %s not found", target)
	}
	return fmt.Sprintf("Model changed to: %s for conversation %s", args[0], target)
}

func (r *Router) frequency(_ context.Context, req *Request, args []string) string {
	target, args := r.resolveTarget(req, args)

	if len(args) == 0 {
		conv, ok := r.store.Get(target)
		if !ok {
			return fmt.Sprintf("Conversation %s not found", target)
		}
		return fmt.Sprintf("Current reply frequency for conversation %s: %g", target, conv.ReplyFrequency)
	}

	freq, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "Please provide a valid number between 0 and 1"
	}
	if _, err := r.store.SetReplyFrequency(target, freq); err != nil {
		switch err {
		case conversation.ErrInvalidFrequency:
			return "Frequency must be between 0 and 1"
		default:
			return fmt.Sprintf("Conversation %s not found", target)
		}
	}
	return fmt.Sprintf("Reply frequency set to: %g for conversation %s", freq, target)
}

func (r *Router) history(_ context.Context, req *Request, args []string) string {
	target, args := r.resolveTarget(req, args)

	if len(args) == 0 {
		conv, ok := r.store.Get(target)
		if !ok {
			return fmt.Sprintf("Conversation %s not found", target)
		}
		return fmt.Sprintf("Current history length for conversation %s: %d", target, conv.HistoryLength)
	}

	length, err := strconv.Atoi(args[0])
	if err != nil {
		return "Please provide a valid positive integer"
	}
	if _, err := r.store.SetHistoryLength(target, length); err != nil {
		switch err {
		case conversation.ErrInvalidHistoryLength:
			return "History length must be positive"
		default:
			return fmt.Sprintf("Conversation %s not found", target)
		}
	}
	return fmt.Sprintf("History length set to: %d for conversation %s", length, target)
}

func (r *Router) prompt(_ context.Context, req *Request, args []string) string {
	target, args := r.resolveTarget(req, args)

	if len(args) == 0 {
		conv, ok := r.store.Get(target)
		if !ok {
			return fmt.Sprintf("Conversation %s not found", target)
		}
		return fmt.Sprintf("Current prompt for conversation %s: %s", target, conv.Prompt)
	}

	template := strings.Join(args, " ")
	if _, err := r.store.SetPrompt(target, template); err != nil {
		return fmt.Sprintf("Conversation %s not found", target)
	}

	conv, _ := r.store.Get(target)
	return fmt.Sprintf("Prompt set for conversation %s: %s", target, preview(conv.Prompt))
}

func (r *Router) debug(_ context.Context, _ *Request, _ []string) string {
	if r.verbose.ToggleVerbose() {
		return "Debug mode is now: on"
	}
	return "Debug mode is now: off"
}

func (r *Router) help(_ context.Context, _ *Request, _ []string) string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Available admin commands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- `%s%s`: %s\n", r.prefix, name, r.commands[name].help)
	}
	return b.String()
}

// preview shortens long prompts for channel-friendly replies.
func preview(s string) string {
	if len(s) > 75 {
		return s[:75] + "..."
	}
	return s
}
