// ABOUTME: Tests for the response coordinator
// ABOUTME: Covers should-respond ordering, in-flight exclusion, retry-with-shrink, typing cancellation

package responder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfaeries/faebot/internal/conversation"
)

type mockGenerator struct {
	mu      sync.Mutex
	calls   int
	results []error // error per call, nil means success
	text    string
	block   chan struct{} // if set, calls block until closed
	prompts []string
}

func (m *mockGenerator) Generate(ctx context.Context, system, prompt, model string) (string, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	call := m.calls
	m.calls++
	if call < len(m.results) && m.results[call] != nil {
		return "", m.results[call]
	}
	return m.text, nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockTypist struct {
	count atomic.Int64
}

func (m *mockTypist) Typing(ctx context.Context, conversationID string) error {
	m.count.Add(1)
	return nil
}

func newTestCoordinator(t *testing.T, gen Generator, typist Typist) (*Coordinator, *conversation.Store) {
	t.Helper()
	s := conversation.NewStore(nil)
	_, err := s.Create(conversation.CreateParams{
		ID:             "chan-1",
		Name:           "general",
		Prompt:         "You are faebot.",
		Model:          "test/model",
		ReplyFrequency: conversation.DefaultReplyFrequency,
		Author:         "alice",
	})
	require.NoError(t, err)

	c := New(s, gen, typist, Config{
		BotName:        "faebot",
		TypingInterval: 5 * time.Millisecond,
		RetryDelay:     time.Millisecond,
	}, nil)
	return c, s
}

func appendEntries(t *testing.T, s *conversation.Store, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.AppendMessage(id, conversation.Message{
			Author:    "alice",
			Content:   "hello",
			Timestamp: time.Date(2025, 3, 1, 12, 0, i, 0, time.UTC),
		}))
	}
}

func TestShouldRespond_Mention(t *testing.T) {
	c, s := newTestCoordinator(t, &mockGenerator{}, nil)
	c.randFloat = func() float64 { return 0.99 }
	conv, _ := s.Get("chan-1")

	assert.True(t, c.ShouldRespond(conv, "whatever content", true))
}

func TestShouldRespond_NamePosition(t *testing.T) {
	c, s := newTestCoordinator(t, &mockGenerator{}, nil)
	c.randFloat = func() float64 { return 0.99 } // probabilistic check never fires
	conv, _ := s.Get("chan-1")

	cases := []struct {
		content string
		want    bool
	}{
		{"faebot how are you today", true},
		{"hey Faebot, what do you think", true},
		{"what do you think about that faebot", true},
		{"what do you think about that, faebot?", true},
		{"one two three faebot five six seven", false}, // name buried in the middle
		{"nothing to see here at all", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.ShouldRespond(conv, tc.content, false), "content: %q", tc.content)
	}
}

func TestShouldRespond_FrequencyAlwaysReplies(t *testing.T) {
	c, s := newTestCoordinator(t, &mockGenerator{}, nil)
	_, err := s.SetReplyFrequency("chan-1", 1.0)
	require.NoError(t, err)
	conv, _ := s.Get("chan-1")

	for _, content := range []string{"no trigger words here", "", "total silence"} {
		assert.True(t, c.ShouldRespond(conv, content, false))
	}
}

func TestShouldRespond_FrequencyZeroNeverRepliesUnprompted(t *testing.T) {
	c, s := newTestCoordinator(t, &mockGenerator{}, nil)
	_, err := s.SetReplyFrequency("chan-1", 0)
	require.NoError(t, err)
	conv, _ := s.Get("chan-1")

	assert.False(t, c.ShouldRespond(conv, "no trigger words here", false))
	assert.True(t, c.ShouldRespond(conv, "faebot hello", false), "name check still short-circuits")
	assert.True(t, c.ShouldRespond(conv, "anything", true), "mention still short-circuits")
}

func TestGenerate_Success(t *testing.T) {
	gen := &mockGenerator{text: "hello friend"}
	c, s := newTestCoordinator(t, gen, nil)
	appendEntries(t, s, "chan-1", 2)

	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	text, err := c.Generate(context.Background(), "chan-1", now)
	require.NoError(t, err)
	assert.Equal(t, "hello friend", text)
	assert.Equal(t, 0, c.Retries("chan-1"))
	assert.False(t, c.Busy("chan-1"))

	// Prompt carries system prompt, history, and the open bot entry.
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "You are faebot.")
	assert.Contains(t, gen.prompts[0], "alice: hello")
	assert.Contains(t, gen.prompts[0], "\n[2025-03-01 13:00:00] faebot:")
}

func TestGenerate_RetryShrinksHistory(t *testing.T) {
	gen := &mockGenerator{
		text:    "second time lucky",
		results: []error{errors.New("model overloaded")},
	}
	c, s := newTestCoordinator(t, gen, nil)
	appendEntries(t, s, "chan-1", 4)

	text, err := c.Generate(context.Background(), "chan-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, 2, gen.callCount())

	conv, _ := s.Get("chan-1")
	assert.Len(t, conv.History, 2, "oldest two entries dropped before retry")
	assert.Equal(t, 0, c.Retries("chan-1"))
}

func TestGenerate_TwoFailuresProduceFinalFailure(t *testing.T) {
	gen := &mockGenerator{
		results: []error{errors.New("model overloaded"), errors.New("model overloaded")},
	}
	c, s := newTestCoordinator(t, gen, nil)
	appendEntries(t, s, "chan-1", 4)

	_, err := c.Generate(context.Background(), "chan-1", time.Now())
	require.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 2, gen.callCount(), "one retry only")

	conv, _ := s.Get("chan-1")
	assert.Len(t, conv.History, 2, "shrunk once, before the retry")
	assert.Equal(t, 0, c.Retries("chan-1"), "counter reset after final failure")
}

func TestGenerate_AtMostOneInFlight(t *testing.T) {
	gen := &mockGenerator{text: "done", block: make(chan struct{})}
	c, _ := newTestCoordinator(t, gen, nil)

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.Generate(context.Background(), "chan-1", time.Now())
		result <- err
	}()
	<-started

	// Wait until the first generation actually holds the in-flight marker.
	require.Eventually(t, func() bool { return c.Busy("chan-1") }, time.Second, time.Millisecond)

	_, err := c.Generate(context.Background(), "chan-1", time.Now())
	assert.ErrorIs(t, err, ErrBusy)

	close(gen.block)
	require.NoError(t, <-result)
	assert.False(t, c.Busy("chan-1"))
}

func TestGenerate_UnknownConversation(t *testing.T) {
	c, _ := newTestCoordinator(t, &mockGenerator{}, nil)

	_, err := c.Generate(context.Background(), "nope", time.Now())
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestGenerate_TypingCancelledOnSuccess(t *testing.T) {
	typist := &mockTypist{}
	gen := &mockGenerator{text: "done"}
	c, _ := newTestCoordinator(t, gen, typist)

	_, err := c.Generate(context.Background(), "chan-1", time.Now())
	require.NoError(t, err)

	fired := typist.count.Load()
	assert.GreaterOrEqual(t, fired, int64(1), "typing fires at least once")

	// No further typing signals after resolution.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, fired, typist.count.Load())
}

func TestGenerate_TypingCancelledOnFailure(t *testing.T) {
	typist := &mockTypist{}
	gen := &mockGenerator{
		results: []error{errors.New("boom"), errors.New("boom")},
	}
	c, _ := newTestCoordinator(t, gen, typist)

	_, err := c.Generate(context.Background(), "chan-1", time.Now())
	require.ErrorIs(t, err, ErrGenerationFailed)

	fired := typist.count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, fired, typist.count.Load(), "typing stops on every exit path")
}

func TestGenerate_ContextCancelled(t *testing.T) {
	gen := &mockGenerator{text: "never", block: make(chan struct{})}
	c, _ := newTestCoordinator(t, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Generate(ctx, "chan-1", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Retries("chan-1"))
	assert.False(t, c.Busy("chan-1"))
}

func TestToggleVerbose(t *testing.T) {
	c, _ := newTestCoordinator(t, &mockGenerator{}, nil)

	assert.True(t, c.ToggleVerbose())
	assert.False(t, c.ToggleVerbose())
}
