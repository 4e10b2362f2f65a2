package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/martinemde/conductor/messagelist"
	"github.com/martinemde/conductor/modelrelay"
)

// SQLite is a Store backed by a local sqlite database.
type SQLite struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) a sqlite store at path. Use
// ":memory:" for an ephemeral database.
func OpenSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	s := &SQLite{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL DEFAULT '',
	resource_id TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	parts TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_resource ON messages(resource_id, created_at);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// SaveThread upserts a thread by id. CreatedAt is preserved on conflict.
func (s *SQLite) SaveThread(ctx context.Context, thread *Thread) error {
	meta, err := json.Marshal(thread.Metadata)
	if err != nil {
		return fmt.Errorf("encoding thread metadata: %w", err)
	}
	now := time.Now().UTC()
	createdAt := thread.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO threads (id, resource_id, title, metadata, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	resource_id = excluded.resource_id,
	title = excluded.title,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at`,
		thread.ID, thread.ResourceID, thread.Title, string(meta), createdAt, now)
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", thread.ID, err)
	}
	return nil
}

// SaveMessages upserts messages by id inside one transaction.
func (s *SQLite) SaveMessages(ctx context.Context, msgs []messagelist.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO messages (id, thread_id, resource_id, role, parts, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	parts = excluded.parts,
	metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("preparing message upsert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("encoding parts for message %s: %w", msg.ID, err)
		}
		meta, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for message %s: %w", msg.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, msg.ID, msg.ThreadID, msg.ResourceID, string(msg.Role), string(parts), string(meta), msg.CreatedAt); err != nil {
			return fmt.Errorf("saving message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	s.log.Debug().Int("count", len(msgs)).Msg("messages saved")
	return nil
}

// GetThreadByID returns the thread or ErrNotFound.
func (s *SQLite) GetThreadByID(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, resource_id, title, metadata, created_at, updated_at
FROM threads WHERE id = ?`, id)

	var t Thread
	var meta string
	if err := row.Scan(&t.ID, &t.ResourceID, &t.Title, &meta, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading thread %s: %w", id, err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
			s.log.Warn().Str("thread_id", id).Err(err).Msg("dropping unreadable thread metadata")
		}
	}
	return &t, nil
}

// Recall returns messages matching the query in creation order.
func (s *SQLite) Recall(ctx context.Context, q RecallQuery) ([]messagelist.Message, error) {
	query := `
SELECT id, thread_id, resource_id, role, parts, metadata, created_at
FROM messages WHERE 1=1`
	var args []any
	if q.ThreadID != "" {
		query += " AND thread_id = ?"
		args = append(args, q.ThreadID)
	}
	if q.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, q.ResourceID)
	}
	query += " ORDER BY created_at ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recalling messages: %w", err)
	}
	defer rows.Close()

	var out []messagelist.Message
	for rows.Next() {
		var msg messagelist.Message
		var role, parts, meta string
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.ResourceID, &role, &parts, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = modelrelay.Role(role)
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("decoding parts for message %s: %w", msg.ID, err)
		}
		if meta != "" && meta != "{}" && meta != "null" {
			_ = json.Unmarshal([]byte(meta), &msg.Metadata)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
