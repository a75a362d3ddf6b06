// ABOUTME: Response coordinator deciding when to reply and serializing generation
// ABOUTME: At most one in-flight generation per conversation, retry-with-shrink on failure

package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/transfaeries/faebot/internal/conversation"
)

var (
	// ErrBusy means a generation is already in flight for the conversation.
	ErrBusy = errors.New("generation already in flight")

	// ErrGenerationFailed means the backend failed even after the shrink-and-retry
	// pass; the caller should surface a user-visible failure notice.
	ErrGenerationFailed = errors.New("generation failed")
)

// Generator is the external generation backend.
type Generator interface {
	Generate(ctx context.Context, system, prompt, model string) (string, error)
}

// Typist shows a transient "is typing" indication on the platform.
type Typist interface {
	Typing(ctx context.Context, conversationID string) error
}

// Config tunes the coordinator. Zero values get defaults.
type Config struct {
	// BotName is the identity checked by ShouldRespond and used to close
	// out the prompt ("[ts] name:").
	BotName string

	// TypingInterval is how often the typing indicator is refreshed while a
	// generation is outstanding.
	TypingInterval time.Duration

	// RetryDelay scales the wait before a generation retry (delay = attempt *
	// RetryDelay).
	RetryDelay time.Duration
}

const (
	defaultTypingInterval = 5 * time.Second
	defaultRetryDelay     = 10 * time.Second

	// shrinkStep is how many oldest entries are dropped before a generation
	// retry. Independent of the normal history-length trimming policy.
	shrinkStep = 2

	// maxGenerationRetries bounds retries after the initial attempt.
	maxGenerationRetries = 1
)

// Coordinator decides whether to respond and runs generations, one at a time
// per conversation.
type Coordinator struct {
	store  *conversation.Store
	gen    Generator
	typist Typist
	logger *slog.Logger

	botName        string
	typingInterval time.Duration
	retryDelay     time.Duration

	// verbose enables full prompt logging (admin "debug" toggle).
	verbose atomic.Bool

	// randFloat is the uniform [0,1) draw for the probabilistic reply check.
	randFloat func() float64

	mu       sync.Mutex
	inflight map[string]struct{}
	retries  map[string]int
}

// New creates a coordinator over the given store, backend, and typist.
func New(store *conversation.Store, gen Generator, typist Typist, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = defaultTypingInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Coordinator{
		store:          store,
		gen:            gen,
		typist:         typist,
		logger:         logger.With("component", "responder"),
		botName:        cfg.BotName,
		typingInterval: cfg.TypingInterval,
		retryDelay:     cfg.RetryDelay,
		randFloat:      rand.Float64,
		inflight:       make(map[string]struct{}),
		retries:        make(map[string]int),
	}
}

// ShouldRespond decides whether the bot replies to a message. Checks run in
// order, first hit wins: explicit mention, bot name among the first or last
// three words, then a uniform draw against the conversation's reply frequency.
func (c *Coordinator) ShouldRespond(conv *conversation.Conversation, content string, mentioned bool) bool {
	if mentioned {
		c.logger.Debug("responding to mention", "id", conv.ID)
		return true
	}

	name := strings.ToLower(c.botName)
	words := strings.Fields(strings.ToLower(strings.TrimSpace(content)))
	edge := len(words)
	if edge > 3 {
		edge = 3
	}
	for _, w := range words[:edge] {
		if strings.Contains(w, name) {
			c.logger.Debug("responding to name at start of message", "id", conv.ID)
			return true
		}
	}
	for _, w := range words[len(words)-edge:] {
		if strings.Contains(w, name) {
			c.logger.Debug("responding to name at end of message", "id", conv.ID)
			return true
		}
	}

	if c.randFloat() < conv.ReplyFrequency {
		c.logger.Debug("responding by chance", "id", conv.ID, "frequency", conv.ReplyFrequency)
		return true
	}
	return false
}

// Busy reports whether a generation is outstanding for the conversation.
// Callers must check this before invoking Generate on an inbound trigger.
func (c *Coordinator) Busy(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[conversationID]
	return ok
}

// Retries returns the current retry counter for a conversation.
func (c *Coordinator) Retries(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[conversationID]
}

// ToggleVerbose flips full-prompt logging and returns the new state.
func (c *Coordinator) ToggleVerbose() bool {
	for {
		old := c.verbose.Load()
		if c.verbose.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Generate produces a reply for the conversation. It guarantees at most one
// outstanding generation per conversation (ErrBusy otherwise) and keeps the
// typing indicator alive until it resolves, success or not.
//
// On backend failure the stored history is shrunk by a fixed step, the retry
// waits a delay proportional to the attempt count, and one more attempt is
// made. A second failure resolves to ErrGenerationFailed with the retry
// counter reset.
func (c *Coordinator) Generate(ctx context.Context, conversationID string, now time.Time) (string, error) {
	if !c.acquire(conversationID) {
		return "", ErrBusy
	}
	defer c.release(conversationID)

	stopTyping := c.startTyping(ctx, conversationID)
	defer stopTyping()

	requestID := uuid.New().String()
	for {
		conv, ok := c.store.Get(conversationID)
		if !ok {
			return "", conversation.ErrNotFound
		}

		prompt := buildPrompt(conv, c.botName, now)
		if c.verbose.Load() {
			c.logger.Info("generation prompt",
				"id", conversationID,
				"request_id", requestID,
				"model", conv.Model,
				"prompt", prompt)
		}

		text, err := c.gen.Generate(ctx, conv.Prompt, prompt, conv.Model)
		if err == nil {
			c.setRetries(conversationID, 0)
			c.logger.Info("generated reply",
				"id", conversationID,
				"request_id", requestID,
				"history", len(conv.History),
				"prompt_chars", len(prompt))
			return text, nil
		}
		if ctx.Err() != nil {
			c.setRetries(conversationID, 0)
			return "", ctx.Err()
		}

		attempt := c.bumpRetries(conversationID)
		c.logger.Error("generation failed",
			"id", conversationID,
			"request_id", requestID,
			"attempt", attempt,
			"history", len(conv.History),
			"error", err)

		if attempt > maxGenerationRetries {
			c.setRetries(conversationID, 0)
			return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}

		remaining := c.store.ShrinkHistory(conversationID, shrinkStep)
		c.logger.Info("shrinking history before retry",
			"id", conversationID,
			"remaining", remaining,
			"attempt", attempt)

		select {
		case <-time.After(time.Duration(attempt) * c.retryDelay):
		case <-ctx.Done():
			c.setRetries(conversationID, 0)
			return "", ctx.Err()
		}
	}
}

// buildPrompt assembles the user-turn payload: system prompt, history lines,
// and an open entry for the bot to complete.
func buildPrompt(conv *conversation.Conversation, botName string, now time.Time) string {
	return conv.Prompt +
		strings.Join(conv.History, "\n") +
		fmt.Sprintf("\n[%s] %s:", now.Format(conversation.EntryTimeLayout), botName)
}

// startTyping fires the typing indicator immediately and then on a fixed
// interval until the returned stop function runs. Stop is safe to call more
// than once and never propagates cancellation to the caller.
func (c *Coordinator) startTyping(ctx context.Context, conversationID string) (stop func()) {
	if c.typist == nil {
		return func() {}
	}

	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if err := c.typist.Typing(tctx, conversationID); err != nil {
			c.logger.Debug("typing indicator failed", "id", conversationID, "error", err)
		}

		ticker := time.NewTicker(c.typingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				if err := c.typist.Typing(tctx, conversationID); err != nil {
					c.logger.Debug("typing indicator failed", "id", conversationID, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (c *Coordinator) acquire(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[conversationID]; ok {
		return false
	}
	c.inflight[conversationID] = struct{}{}
	return true
}

func (c *Coordinator) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, conversationID)
}

func (c *Coordinator) setRetries(conversationID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[conversationID] = n
}

func (c *Coordinator) bumpRetries(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[conversationID]++
	return c.retries[conversationID]
}
