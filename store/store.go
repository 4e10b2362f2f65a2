// Package store persists threads and messages behind a narrow save/load
// contract. Writes are upserts by id, so at-least-once delivery from the
// run loop is safe.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/martinemde/conductor/messagelist"
)

// ErrNotFound is returned when a thread does not exist.
var ErrNotFound = errors.New("store: not found")

// Thread is the durable record a run's messages hang off.
type Thread struct {
	ID         string         `json:"id"`
	ResourceID string         `json:"resource_id,omitempty"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RecallQuery selects messages for memory recall.
type RecallQuery struct {
	ThreadID   string
	ResourceID string
	Limit      int // 0 means no limit
}

// Store is the storage collaborator contract.
type Store interface {
	// SaveThread upserts a thread by id.
	SaveThread(ctx context.Context, thread *Thread) error

	// SaveMessages upserts messages by id.
	SaveMessages(ctx context.Context, msgs []messagelist.Message) error

	// GetThreadByID returns the thread or ErrNotFound.
	GetThreadByID(ctx context.Context, id string) (*Thread, error)

	// Recall returns messages matching the query in creation order.
	Recall(ctx context.Context, q RecallQuery) ([]messagelist.Message, error)
}
