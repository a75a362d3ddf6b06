// ABOUTME: In-memory conversation store mapping channel IDs to conversation state
// ABOUTME: Enforces history trimming, participant dedup, and per-field validation

package conversation

import (
	"log/slog"
	"sort"
	"sync"
)

// Store owns the mapping from conversation ID to conversation state. It is the
// single source of truth while the process runs; the persistence layer only
// sees copies.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	logger        *slog.Logger
}

// NewStore creates an empty conversation store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		conversations: make(map[string]*Conversation),
		logger:        logger.With("component", "conversation"),
	}
}

// Hydrate seeds the store with conversations loaded from persistence.
// Existing in-memory entries are never overwritten.
func (s *Store) Hydrate(loaded map[string]*Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, conv := range loaded {
		if _, exists := s.conversations[id]; exists {
			continue
		}
		s.conversations[id] = conv.clone()
	}
	s.logger.Info("conversation store hydrated", "count", len(loaded))
}

// Get returns a copy of the conversation, or false if the ID is unknown.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return conv.clone(), true
}

// CreateParams carries the initial fields for a new conversation.
type CreateParams struct {
	ID     string
	Name   string
	Prompt string

	// Model is the caller's configured default generation model.
	Model string

	// ReplyFrequency of zero means "use the default", not "never reply";
	// admins set an explicit zero through SetReplyFrequency.
	ReplyFrequency float64
	Server         ServerContext
	IsDM           bool

	// Author is the first participant (the message that triggered creation).
	Author string
}

// Create adds a new conversation with defaults filled in: HistoryLength is
// always DefaultHistoryLength, and an unset ReplyFrequency becomes
// DefaultReplyFrequency. It fails with ErrDuplicateConversation if the ID is
// already present; callers that want idempotence must check existence first.
func (s *Store) Create(p CreateParams) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[p.ID]; exists {
		return nil, ErrDuplicateConversation
	}

	if p.ReplyFrequency == 0 {
		p.ReplyFrequency = DefaultReplyFrequency
	}

	conv := &Conversation{
		ID:             p.ID,
		Name:           p.Name,
		History:        []string{},
		Participants:   []string{},
		HistoryLength:  DefaultHistoryLength,
		ReplyFrequency: p.ReplyFrequency,
		Model:          p.Model,
		Prompt:         p.Prompt,
		Server:         p.Server,
		IsDM:           p.IsDM,
	}
	if p.Author != "" {
		conv.Participants = append(conv.Participants, p.Author)
	}
	s.conversations[p.ID] = conv

	s.logger.Info("initialized conversation", "id", p.ID, "name", p.Name, "dm", p.IsDM)
	return conv.clone(), nil
}

// AppendMessage records a message in the conversation's history: the author is
// added to the participant set, a referenced message (if any) is synthesized
// first unless already present, the entry itself is appended, and the history
// is trimmed to HistoryLength from the oldest end.
func (s *Store) AppendMessage(id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}

	if msg.Author != "" && !contains(conv.Participants, msg.Author) {
		conv.Participants = append(conv.Participants, msg.Author)
	}

	// A reply may reference a message we never saw (sent before hydration, or
	// trimmed away). Record it first so the causal order reads correctly.
	if msg.Referenced != nil {
		refEntry := FormatEntry(msg.Referenced.Timestamp, msg.Referenced.Author, msg.Referenced.Content)
		if !contains(conv.History, refEntry) && !contains(conv.History, referencedPrefix+refEntry) {
			conv.History = append(conv.History, referencedPrefix+refEntry)
		}
	}

	if msg.IsReply {
		conv.History = append(conv.History, formatReplyEntry(msg.Timestamp, msg.Author, msg.Content))
	} else {
		conv.History = append(conv.History, FormatEntry(msg.Timestamp, msg.Author, msg.Content))
	}

	s.trimLocked(conv)
	return nil
}

// trimLocked drops entries from the oldest end until the history fits the
// conversation's HistoryLength. Caller must hold the write lock.
func (s *Store) trimLocked(conv *Conversation) {
	if excess := len(conv.History) - conv.HistoryLength; excess > 0 {
		conv.History = conv.History[excess:]
		s.logger.Debug("trimmed history", "id", conv.ID, "to", conv.HistoryLength)
	}
}

// ShrinkHistory drops up to n entries from the oldest end, independent of the
// normal trimming policy. Used by the response coordinator when a generation
// attempt fails on an oversized prompt. Returns the resulting history length.
func (s *Store) ShrinkHistory(id string, n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return 0
	}
	if n > len(conv.History) {
		n = len(conv.History)
	}
	conv.History = conv.History[n:]
	return len(conv.History)
}

// ClearHistory empties the conversation's history but keeps its identity,
// participants, and configuration ("forget").
func (s *Store) ClearHistory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.History = []string{}
	s.logger.Info("cleared history", "id", id)
	return nil
}

// SetModel changes the generation model for a conversation and returns the
// previous value.
func (s *Store) SetModel(id, model string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return "", ErrNotFound
	}
	prev := conv.Model
	conv.Model = model
	return prev, nil
}

// SetReplyFrequency changes the unsolicited-reply probability. Values outside
// [0, 1] are rejected without mutating state.
func (s *Store) SetReplyFrequency(id string, freq float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return 0, ErrNotFound
	}
	if freq < 0 || freq > 1 {
		return conv.ReplyFrequency, ErrInvalidFrequency
	}
	prev := conv.ReplyFrequency
	conv.ReplyFrequency = freq
	return prev, nil
}

// SetHistoryLength changes the history cap. Values below 1 are rejected
// without mutating state. An existing over-length history is trimmed on the
// next append, not here.
func (s *Store) SetHistoryLength(id string, length int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return 0, ErrNotFound
	}
	if length < 1 {
		return conv.HistoryLength, ErrInvalidHistoryLength
	}
	prev := conv.HistoryLength
	conv.HistoryLength = length
	return prev, nil
}

// SetPrompt installs a new prompt template with placeholders substituted from
// the conversation's server context snapshot. Returns the previous prompt.
func (s *Store) SetPrompt(id, template string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return "", ErrNotFound
	}
	prev := conv.Prompt
	conv.Prompt = RenderPrompt(template, conv.Server, conv.Participants)
	return prev, nil
}

// Summary is one row of the diagnostic listing.
type Summary struct {
	ID       string
	Name     string
	Messages int
}

// List returns a stable snapshot of all conversations, ordered by ID.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, Summary{ID: conv.ID, Name: conv.Name, Messages: len(conv.History)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns deep copies of every conversation, keyed by ID. Used by the
// persistence layer when flushing.
func (s *Store) All() map[string]*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Conversation, len(s.conversations))
	for id, conv := range s.conversations {
		out[id] = conv.clone()
	}
	return out
}

// Len reports how many conversations are held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
