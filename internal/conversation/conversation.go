// ABOUTME: Conversation record and entry formatting for per-channel chat state
// ABOUTME: Defines the Conversation struct, prompt placeholders, and validation sentinels

package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation and lookup errors surfaced by the store. These are reported to
// the requester (admin commands) rather than crashing anything.
var (
	ErrNotFound              = errors.New("conversation not found")
	ErrDuplicateConversation = errors.New("conversation already exists")
	ErrInvalidFrequency      = errors.New("reply frequency must be between 0 and 1")
	ErrInvalidHistoryLength  = errors.New("history length must be a positive integer")
)

// Defaults applied when a conversation is created.
const (
	DefaultHistoryLength  = 69
	DefaultReplyFrequency = 0.05
	DMReplyFrequency      = 1.0
)

// Prompt placeholders substituted from the conversation's server context
// snapshot when a prompt template is installed.
const (
	PlaceholderServer      = "{server}"
	PlaceholderChannel     = "{channel}"
	PlaceholderTopic       = "{topic}"
	PlaceholderConversants = "{conversants}"
)

// EntryTimeLayout is the timestamp format used inside history entries.
const EntryTimeLayout = "2006-01-02 15:04:05"

// referencedPrefix marks history entries synthesized from a reply's referenced
// message rather than observed directly.
const referencedPrefix = "[Referenced message] "

// ServerContext is a denormalized snapshot of platform metadata, retained
// purely for placeholder substitution. It is never re-derived from the
// platform after the conversation is created.
type ServerContext struct {
	ServerName   string `json:"server_name"`
	ChannelName  string `json:"channel_name"`
	ChannelTopic string `json:"channel_topic"`
}

// Conversation is the unit of chat state keyed by a channel or DM identifier.
// All mutation goes through Store methods; copies handed out by the store are
// safe to read without coordination.
type Conversation struct {
	ID             string
	Name           string
	History        []string
	Participants   []string
	HistoryLength  int
	ReplyFrequency float64
	Model          string
	Prompt         string
	Server         ServerContext
	IsDM           bool
}

// clone returns a deep copy so callers can read without holding store locks.
func (c *Conversation) clone() *Conversation {
	dup := *c
	dup.History = append([]string(nil), c.History...)
	dup.Participants = append([]string(nil), c.Participants...)
	return &dup
}

// Message is one inbound or outbound chat message to be recorded in history.
type Message struct {
	Author    string
	Content   string
	Timestamp time.Time

	// IsReply marks the message as a reply to an earlier message.
	IsReply bool

	// Referenced carries the message this one replies to, when the platform
	// resolved it. It is synthesized into history if not already present.
	Referenced *Message
}

// FormatEntry renders a message as a history line: "[ts] author: content".
func FormatEntry(ts time.Time, author, content string) string {
	return fmt.Sprintf("[%s] %s: %s", ts.Format(EntryTimeLayout), author, content)
}

// formatReplyEntry renders a reply message: "[ts] author replied: content".
func formatReplyEntry(ts time.Time, author, content string) string {
	return fmt.Sprintf("[%s] %s replied: %s", ts.Format(EntryTimeLayout), author, content)
}

// RenderPrompt substitutes the recognized placeholders in a prompt template
// using the given server context and participant list.
func RenderPrompt(template string, server ServerContext, participants []string) string {
	out := strings.ReplaceAll(template, PlaceholderServer, server.ServerName)
	out = strings.ReplaceAll(out, PlaceholderChannel, server.ChannelName)
	out = strings.ReplaceAll(out, PlaceholderTopic, server.ChannelTopic)
	out = strings.ReplaceAll(out, PlaceholderConversants, strings.Join(participants, ", "))
	return out
}
