package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/martinemde/conductor/messagelist"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	messages map[string]messagelist.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		threads:  make(map[string]*Thread),
		messages: make(map[string]messagelist.Message),
	}
}

// SaveThread upserts a thread by id.
func (m *Memory) SaveThread(ctx context.Context, thread *Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *thread
	now := time.Now().UTC()
	if existing, ok := m.threads[thread.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.threads[thread.ID] = &cp
	return nil
}

// SaveMessages upserts messages by id.
func (m *Memory) SaveMessages(ctx context.Context, msgs []messagelist.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.messages[msg.ID] = msg
	}
	return nil
}

// GetThreadByID returns the thread or ErrNotFound.
func (m *Memory) GetThreadByID(ctx context.Context, id string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thread, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *thread
	return &cp, nil
}

// Recall returns messages matching the query in creation order.
func (m *Memory) Recall(ctx context.Context, q RecallQuery) ([]messagelist.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []messagelist.Message
	for _, msg := range m.messages {
		if q.ThreadID != "" && msg.ThreadID != q.ThreadID {
			continue
		}
		if q.ResourceID != "" && msg.ResourceID != q.ResourceID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

// MessageCount reports how many messages are stored for a thread.
func (m *Memory) MessageCount(threadID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, msg := range m.messages {
		if msg.ThreadID == threadID {
			n++
		}
	}
	return n
}
