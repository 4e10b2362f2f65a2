// Package messagelist reconciles conversation messages arriving from memory
// recall, caller input, and model responses into one canonical ordered
// sequence, repairing orphaned tool calls along the way.
package messagelist

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/martinemde/conductor/modelrelay"
)

// Origin tags where a message entered the list from.
type Origin string

const (
	OriginMemory   Origin = "memory"
	OriginUser     Origin = "user-input"
	OriginResponse Origin = "response"
)

// Message is the storage-shaped unit of conversation. Parts reuse the relay
// wire union; unknown part shapes ride along in Part.Raw untouched.
type Message struct {
	ID         string            `json:"id"`
	Role       modelrelay.Role   `json:"role"`
	Parts      []modelrelay.Part `json:"parts"`
	CreatedAt  time.Time         `json:"created_at"`
	ThreadID   string            `json:"thread_id,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// NewMessage creates a Message with a fresh id and timestamp.
func NewMessage(role modelrelay.Role, parts ...modelrelay.Part) Message {
	id, _ := gonanoid.New()
	return Message{
		ID:        id,
		Role:      role,
		Parts:     parts,
		CreatedAt: time.Now().UTC(),
	}
}

// NewUserMessage creates a user Message with text content.
func NewUserMessage(text string) Message {
	return NewMessage(modelrelay.RoleUser, modelrelay.TextPart(text))
}

// NewSystemMessage creates a system Message with text content.
func NewSystemMessage(text string) Message {
	return NewMessage(modelrelay.RoleSystem, modelrelay.TextPart(text))
}

// Text returns the concatenation of the message's text parts.
func (m Message) Text() string {
	return modelrelay.Message{Role: m.Role, Parts: m.Parts}.Text()
}

// Wire converts the message to the relay wire shape.
func (m Message) Wire() modelrelay.Message {
	return modelrelay.Message{Role: m.Role, Parts: m.Parts}
}

// merge folds src into dst: last-write-wins on scalar fields, parts replaced
// when src carries any, metadata deep-merged.
func merge(dst *Message, src Message) {
	if src.Role != "" {
		dst.Role = src.Role
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if src.ThreadID != "" {
		dst.ThreadID = src.ThreadID
	}
	if src.ResourceID != "" {
		dst.ResourceID = src.ResourceID
	}
	if len(src.Parts) > 0 {
		dst.Parts = src.Parts
	}
	dst.Metadata = mergeMetadata(dst.Metadata, src.Metadata)
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMetadata(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
