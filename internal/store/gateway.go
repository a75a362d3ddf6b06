// ABOUTME: SQLite-backed persistence gateway for conversation state
// ABOUTME: Saves metadata and history atomically with a merge-on-write conflict guard

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/transfaeries/faebot/internal/conversation"
)

// Gateway provides durable storage for conversation state. It degrades
// gracefully: if the database is unavailable the process keeps running
// memory-only, and every operation becomes a logged no-op.
type Gateway struct {
	path   string
	logger *slog.Logger

	// Retry policy for connectivity-class failures.
	maxRetries int
	backoff    time.Duration

	mu sync.Mutex
	db *sql.DB
}

// New creates a gateway for the database at path. No connection is made until
// Connect is called.
func New(path string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		path:       path,
		logger:     logger.With("component", "store"),
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// Connect establishes the connection pool and ensures the schema exists. On
// failure the gateway stays disconnected: Save and LoadAll become no-ops and
// the caller is expected to keep running memory-only.
func (g *Gateway) Connect(ctx context.Context) error {
	db, err := g.openPool(ctx)
	if err != nil {
		g.logger.Error("database unavailable, continuing memory-only", "path", g.path, "error", err)
		return err
	}

	g.mu.Lock()
	g.db = db
	g.mu.Unlock()

	g.logger.Info("database connected", "path", g.path)
	return nil
}

// Connected reports whether the gateway has a live connection pool.
func (g *Gateway) Connected() bool {
	return g.pool() != nil
}

// Close releases the connection pool.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}

// openPool opens a fresh connection pool, verifies connectivity, and ensures
// the schema exists.
func (g *Gateway) openPool(ctx context.Context) (*sql.DB, error) {
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", g.path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)

	// WAL mode so periodic flushes don't block message handling.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := createSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return db, nil
}

// pool returns the current connection pool, or nil when disconnected.
func (g *Gateway) pool() *sql.DB {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.db
}

// reconnect swaps in a fresh connection pool, closing the old one.
func (g *Gateway) reconnect(ctx context.Context) error {
	db, err := g.openPool(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	old := g.db
	g.db = db
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}
	g.logger.Info("database pool recreated", "path", g.path)
	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			history_json  TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// metadata is the persisted configuration blob for one conversation.
// History is stored separately so the conflict guard can compare it without
// decoding everything.
type metadata struct {
	HistoryLength  int                        `json:"history_length"`
	ReplyFrequency float64                    `json:"reply_frequency"`
	Model          string                     `json:"model"`
	Prompt         string                     `json:"prompt_template"`
	Participants   []string                   `json:"participants"`
	Server         conversation.ServerContext `json:"server_context"`
	IsDM           bool                       `json:"is_dm"`
}

// Save writes a conversation's metadata and full history atomically as one
// transaction. Before overwriting, the persisted history is compared with the
// in-memory copy: if the persisted copy is longer and the in-memory copy lacks
// its last entry, the write is downgraded to a metadata-only update so
// messages recorded elsewhere are not lost. force bypasses the guard.
//
// Returns whether the full history-inclusive write happened.
func (g *Gateway) Save(ctx context.Context, conv *conversation.Conversation, force bool) (bool, error) {
	if g.pool() == nil {
		g.logger.Debug("save skipped, database disconnected", "id", conv.ID)
		return false, nil
	}

	var full bool
	err := g.withRetry(ctx, "save conversation", func(db *sql.DB) error {
		var err error
		full, err = g.saveTx(ctx, db, conv, force)
		return err
	})
	if err != nil {
		return false, err
	}
	return full, nil
}

func (g *Gateway) saveTx(ctx context.Context, db *sql.DB, conv *conversation.Conversation, force bool) (bool, error) {
	metaJSON, err := json.Marshal(metadata{
		HistoryLength:  conv.HistoryLength,
		ReplyFrequency: conv.ReplyFrequency,
		Model:          conv.Model,
		Prompt:         conv.Prompt,
		Participants:   conv.Participants,
		Server:         conv.Server,
		IsDM:           conv.IsDM,
	})
	if err != nil {
		return false, fmt.Errorf("encoding metadata: %w", err)
	}
	historyJSON, err := json.Marshal(conv.History)
	if err != nil {
		return false, fmt.Errorf("encoding history: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if !force {
		downgrade, err := persistedHistoryWins(ctx, tx, conv)
		if err != nil {
			return false, err
		}
		if downgrade {
			_, err := tx.ExecContext(ctx, `
				UPDATE conversations
				SET name = ?, metadata_json = ?, updated_at = ?
				WHERE id = ?
			`, conv.Name, string(metaJSON), now, conv.ID)
			if err != nil {
				return false, fmt.Errorf("updating metadata: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return false, fmt.Errorf("committing metadata update: %w", err)
			}
			g.logger.Warn("persisted history is longer than in-memory copy, keeping it",
				"id", conv.ID,
				"in_memory", len(conv.History))
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, metadata_json, history_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			metadata_json = excluded.metadata_json,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at
	`, conv.ID, conv.Name, string(metaJSON), string(historyJSON), now)
	if err != nil {
		return false, fmt.Errorf("upserting conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing save: %w", err)
	}

	g.logger.Debug("saved conversation", "id", conv.ID, "history", len(conv.History))
	return true, nil
}

// persistedHistoryWins reports whether the persisted history should be kept:
// it is longer than the in-memory copy and its newest entry is absent from it,
// meaning the in-memory copy is missing messages another writer recorded.
func persistedHistoryWins(ctx context.Context, tx *sql.Tx, conv *conversation.Conversation) (bool, error) {
	var historyJSON string
	err := tx.QueryRowContext(ctx,
		`SELECT history_json FROM conversations WHERE id = ?`, conv.ID,
	).Scan(&historyJSON)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading persisted history: %w", err)
	}

	var persisted []string
	if err := json.Unmarshal([]byte(historyJSON), &persisted); err != nil {
		// Undecodable persisted history carries no messages worth protecting.
		return false, nil
	}
	if len(persisted) <= len(conv.History) || len(persisted) == 0 {
		return false, nil
	}

	last := persisted[len(persisted)-1]
	for _, entry := range conv.History {
		if entry == last {
			return false, nil
		}
	}
	return true, nil
}

// SaveAll persists every conversation in the map, continuing past individual
// failures. Returns how many full saves succeeded.
func (g *Gateway) SaveAll(ctx context.Context, convs map[string]*conversation.Conversation) int {
	saved := 0
	for id, conv := range convs {
		full, err := g.Save(ctx, conv, false)
		if err != nil {
			g.logger.Error("failed to save conversation", "id", id, "error", err)
			continue
		}
		if full {
			saved++
		}
	}
	return saved
}

// LoadAll reads every persisted conversation. Called once at startup to
// hydrate the in-memory store. Undecodable rows are skipped with a warning;
// total failure yields an empty map so the process starts cold instead of
// crashing.
func (g *Gateway) LoadAll(ctx context.Context) map[string]*conversation.Conversation {
	out := make(map[string]*conversation.Conversation)
	if g.pool() == nil {
		g.logger.Debug("load skipped, database disconnected")
		return out
	}

	err := g.withRetry(ctx, "load conversations", func(db *sql.DB) error {
		// Reset in case a previous attempt scanned part of the result set.
		out = make(map[string]*conversation.Conversation)

		rows, err := db.QueryContext(ctx, `
			SELECT id, name, metadata_json, history_json
			FROM conversations
			ORDER BY updated_at DESC
		`)
		if err != nil {
			return fmt.Errorf("querying conversations: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id, name, metaJSON, historyJSON string
			if err := rows.Scan(&id, &name, &metaJSON, &historyJSON); err != nil {
				return fmt.Errorf("scanning conversation row: %w", err)
			}

			conv, err := decodeConversation(id, name, metaJSON, historyJSON)
			if err != nil {
				g.logger.Warn("skipping undecodable conversation record", "id", id, "error", err)
				continue
			}
			out[id] = conv
		}
		return rows.Err()
	})
	if err != nil {
		g.logger.Error("loading conversations failed, starting cold", "error", err)
		return make(map[string]*conversation.Conversation)
	}

	g.logger.Info("loaded conversations", "count", len(out))
	return out
}

// decodeConversation rebuilds a Conversation from its persisted blobs. The
// history is trimmed to the configured length, newest entries kept.
func decodeConversation(id, name, metaJSON, historyJSON string) (*conversation.Conversation, error) {
	var meta metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	var history []string
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	if meta.HistoryLength < 1 {
		meta.HistoryLength = conversation.DefaultHistoryLength
	}
	if excess := len(history) - meta.HistoryLength; excess > 0 {
		history = history[excess:]
	}
	if history == nil {
		history = []string{}
	}
	if meta.Participants == nil {
		meta.Participants = []string{}
	}

	return &conversation.Conversation{
		ID:             id,
		Name:           name,
		History:        history,
		Participants:   meta.Participants,
		HistoryLength:  meta.HistoryLength,
		ReplyFrequency: meta.ReplyFrequency,
		Model:          meta.Model,
		Prompt:         meta.Prompt,
		Server:         meta.Server,
		IsDM:           meta.IsDM,
	}, nil
}
