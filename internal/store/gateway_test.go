// ABOUTME: Tests for the SQLite persistence gateway
// ABOUTME: Covers round-trips, the merge-on-write conflict guard, and degraded mode

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfaeries/faebot/internal/conversation"
)

// setupTestGateway creates a connected gateway backed by a temporary database.
func setupTestGateway(t *testing.T) *Gateway {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	g := New(dbPath, nil)
	g.backoff = time.Millisecond
	require.NoError(t, g.Connect(context.Background()))

	t.Cleanup(func() {
		g.Close()
	})
	return g
}

func testConversation(id string) *conversation.Conversation {
	return &conversation.Conversation{
		ID:             id,
		Name:           "general",
		History:        []string{"[2025-03-01 12:00:00] alice: hello", "[2025-03-01 12:00:05] faebot: hi"},
		Participants:   []string{"alice"},
		HistoryLength:  conversation.DefaultHistoryLength,
		ReplyFrequency: 0.25,
		Model:          "test/model",
		Prompt:         "You are a chatbot.",
		Server: conversation.ServerContext{
			ServerName:   "Fae Realm",
			ChannelName:  "general",
			ChannelTopic: "faerie business",
		},
	}
}

func TestGateway_SaveLoadRoundTrip(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	conv := testConversation("chan-1")
	full, err := g.Save(ctx, conv, false)
	require.NoError(t, err)
	assert.True(t, full)

	loaded := g.LoadAll(ctx)
	require.Len(t, loaded, 1)

	got := loaded["chan-1"]
	require.NotNil(t, got)
	assert.Equal(t, conv.Name, got.Name)
	assert.Equal(t, conv.History, got.History)
	assert.Equal(t, conv.Participants, got.Participants)
	assert.Equal(t, conv.HistoryLength, got.HistoryLength)
	assert.Equal(t, conv.ReplyFrequency, got.ReplyFrequency)
	assert.Equal(t, conv.Model, got.Model)
	assert.Equal(t, conv.Prompt, got.Prompt)
	assert.Equal(t, conv.Server, got.Server)
}

func TestGateway_Save_Upsert(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	conv := testConversation("chan-1")
	_, err := g.Save(ctx, conv, false)
	require.NoError(t, err)

	conv.History = append(conv.History, "[2025-03-01 12:01:00] alice: more")
	conv.Model = "other/model"
	full, err := g.Save(ctx, conv, false)
	require.NoError(t, err)
	assert.True(t, full)

	loaded := g.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Len(t, loaded["chan-1"].History, 3)
	assert.Equal(t, "other/model", loaded["chan-1"].Model)
}

func TestGateway_Save_ConflictGuard(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	// Persist a long history, as another process instance would have.
	long := testConversation("chan-1")
	long.History = []string{"one", "two", "three", "four"}
	_, err := g.Save(ctx, long, false)
	require.NoError(t, err)

	// A shorter in-memory copy missing the persisted tail must not clobber it.
	short := testConversation("chan-1")
	short.History = []string{"one", "two"}
	short.Model = "updated/model"
	full, err := g.Save(ctx, short, false)
	require.NoError(t, err)
	assert.False(t, full, "history write should be downgraded")

	loaded := g.LoadAll(ctx)
	got := loaded["chan-1"]
	assert.Equal(t, []string{"one", "two", "three", "four"}, got.History, "persisted history untouched")
	assert.Equal(t, "updated/model", got.Model, "metadata still updated")
}

func TestGateway_Save_ConflictGuard_InMemoryHasTail(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	long := testConversation("chan-1")
	long.History = []string{"one", "two", "three", "four"}
	_, err := g.Save(ctx, long, false)
	require.NoError(t, err)

	// Shorter, but contains the persisted newest entry: a legitimately trimmed
	// copy of the same conversation. Full overwrite is allowed.
	trimmed := testConversation("chan-1")
	trimmed.History = []string{"three", "four"}
	full, err := g.Save(ctx, trimmed, false)
	require.NoError(t, err)
	assert.True(t, full)

	loaded := g.LoadAll(ctx)
	assert.Equal(t, []string{"three", "four"}, loaded["chan-1"].History)
}

func TestGateway_Save_ForceOverwrite(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	long := testConversation("chan-1")
	long.History = []string{"one", "two", "three", "four"}
	_, err := g.Save(ctx, long, false)
	require.NoError(t, err)

	short := testConversation("chan-1")
	short.History = []string{"fresh start"}
	full, err := g.Save(ctx, short, true)
	require.NoError(t, err)
	assert.True(t, full)

	loaded := g.LoadAll(ctx)
	assert.Equal(t, []string{"fresh start"}, loaded["chan-1"].History)
}

func TestGateway_LoadAll_SkipsUndecodableRecords(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	good := testConversation("chan-good")
	_, err := g.Save(ctx, good, false)
	require.NoError(t, err)

	// Corrupt a second record directly.
	_, err = g.pool().ExecContext(ctx, `
		INSERT INTO conversations (id, name, metadata_json, history_json, updated_at)
		VALUES ('chan-bad', 'broken', 'not json', '[]', '2025-03-01T00:00:00Z')
	`)
	require.NoError(t, err)

	loaded := g.LoadAll(ctx)
	require.Len(t, loaded, 1)
	assert.Contains(t, loaded, "chan-good")
}

func TestGateway_LoadAll_TrimsToHistoryLength(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	conv := testConversation("chan-1")
	conv.HistoryLength = 3
	conv.History = []string{"a", "b", "c", "d", "e"}
	_, err := g.Save(ctx, conv, true)
	require.NoError(t, err)

	loaded := g.LoadAll(ctx)
	assert.Equal(t, []string{"c", "d", "e"}, loaded["chan-1"].History)
}

func TestGateway_Disconnected_NoOps(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "never-connected.db"), nil)
	ctx := context.Background()

	assert.False(t, g.Connected())

	full, err := g.Save(ctx, testConversation("chan-1"), false)
	assert.NoError(t, err)
	assert.False(t, full)

	loaded := g.LoadAll(ctx)
	assert.Empty(t, loaded)

	assert.NoError(t, g.Close())
}

func TestGateway_SaveAll(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	convs := map[string]*conversation.Conversation{
		"chan-1": testConversation("chan-1"),
		"chan-2": testConversation("chan-2"),
	}
	saved := g.SaveAll(ctx, convs)
	assert.Equal(t, 2, saved)

	loaded := g.LoadAll(ctx)
	assert.Len(t, loaded, 2)
}

func TestGateway_LoadAll_DefaultsInvalidHistoryLength(t *testing.T) {
	g := setupTestGateway(t)
	ctx := context.Background()

	meta, err := json.Marshal(map[string]any{"history_length": 0, "reply_frequency": 0.5})
	require.NoError(t, err)
	_, err = g.pool().ExecContext(ctx, `
		INSERT INTO conversations (id, name, metadata_json, history_json, updated_at)
		VALUES ('chan-1', 'general', ?, '["a"]', '2025-03-01T00:00:00Z')
	`, string(meta))
	require.NoError(t, err)

	loaded := g.LoadAll(ctx)
	require.Contains(t, loaded, "chan-1")
	assert.Equal(t, conversation.DefaultHistoryLength, loaded["chan-1"].HistoryLength)
}
