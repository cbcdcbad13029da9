package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/apexion-ai/cg/internal/paths"
)

const createUsageTableSQL = `
CREATE TABLE IF NOT EXISTS usage (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id        TEXT NOT NULL,
    created_at        TEXT NOT NULL,
    mode              TEXT NOT NULL,
    model             TEXT NOT NULL,
    prompt_tokens     INTEGER DEFAULT 0,
    completion_tokens INTEGER DEFAULT 0,
    cost              REAL DEFAULT 0,
    finish_reason     TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_usage_created_at ON usage(created_at);
`

// Record is one request made during a session.
type Record struct {
	SessionID        string
	CreatedAt        time.Time
	Mode             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	FinishReason     string
}

// ModelTotal aggregates usage for one model.
type ModelTotal struct {
	Model            string
	Requests         int
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// UsageStore keeps per-request usage in a SQLite database.
type UsageStore struct {
	db *sql.DB
}

// DefaultUsagePath returns usage.db in the data directory.
func DefaultUsagePath() (string, error) {
	dir, err := paths.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}

// OpenUsageStore opens (or creates) a SQLite database at dbPath and ensures the schema exists.
func OpenUsageStore(dbPath string) (*UsageStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets concurrent cg processes append without blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createUsageTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &UsageStore{db: db}, nil
}

// Record appends r.
func (s *UsageStore) Record(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage
			(session_id, created_at, mode, model, prompt_tokens, completion_tokens, cost, finish_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
		r.Mode,
		r.Model,
		r.PromptTokens,
		r.CompletionTokens,
		r.Cost,
		r.FinishReason,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Recent returns the last limit records, newest first.
func (s *UsageStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, created_at, mode, model, prompt_tokens, completion_tokens, cost, finish_reason
		FROM usage ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdAt string
		if err := rows.Scan(&r.SessionID, &createdAt, &r.Mode, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &r.Cost, &r.FinishReason); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByModel returns per-model totals ordered by cost, highest first.
func (s *UsageStore) ByModel(ctx context.Context) ([]ModelTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), SUM(cost)
		FROM usage GROUP BY model ORDER BY SUM(cost) DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []ModelTotal
	for rows.Next() {
		var t ModelTotal
		if err := rows.Scan(&t.Model, &t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.Cost); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *UsageStore) Close() error {
	return s.db.Close()
}
