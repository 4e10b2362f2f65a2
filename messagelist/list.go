package messagelist

import (
	"github.com/martinemde/conductor/modelrelay"
)

// List owns a deduplicated, origin-tagged collection of messages for one run.
// A List belongs to a single run and is not safe for concurrent use.
type List struct {
	entries        []entry
	index          map[string]int
	systemOverride []Message
	hasOverride    bool
}

type entry struct {
	msg    Message
	origin Origin
}

// New creates an empty List.
func New() *List {
	return &List{index: make(map[string]int)}
}

// Add inserts a message preserving arrival order. A message with an id
// already in the list merges into the existing one instead of appending:
// last-write-wins on scalar fields, deep-merge on metadata.
func (l *List) Add(msg Message, origin Origin) {
	if msg.ID != "" {
		if i, ok := l.index[msg.ID]; ok {
			merge(&l.entries[i].msg, msg)
			return
		}
	}
	l.entries = append(l.entries, entry{msg: msg, origin: origin})
	if msg.ID != "" {
		l.index[msg.ID] = len(l.entries) - 1
	}
}

// AddAll inserts messages in order under one origin.
func (l *List) AddAll(msgs []Message, origin Origin) {
	for _, m := range msgs {
		l.Add(m, origin)
	}
}

// Len returns the number of messages in the list.
func (l *List) Len() int {
	return len(l.entries)
}

// ByOrigin returns the messages added under the given origin, in order.
func (l *List) ByOrigin(origin Origin) []Message {
	var out []Message
	for _, e := range l.entries {
		if e.origin == origin {
			out = append(out, e.msg)
		}
	}
	return out
}

// ReplaceSystemMessages swaps the system messages for the current step only.
// The override applies to Core until cleared; it never reaches DB and does
// not alter the durable entries.
func (l *List) ReplaceSystemMessages(msgs []Message) {
	l.systemOverride = msgs
	l.hasOverride = true
}

// ClearSystemOverride restores the durable system-message baseline.
func (l *List) ClearSystemOverride() {
	l.systemOverride = nil
	l.hasOverride = false
}

// Core materializes the canonical wire sequence: the step's system messages
// first, then the sanitized conversation with adjacent same-role fragments
// collapsed. An assistant turn with no text keeps an explicit empty text
// part so tool-call pairing around it survives.
func (l *List) Core() []modelrelay.Message {
	var msgs []Message
	if l.hasOverride {
		msgs = append(msgs, l.systemOverride...)
		for _, e := range l.entries {
			if e.msg.Role != modelrelay.RoleSystem {
				msgs = append(msgs, e.msg)
			}
		}
	} else {
		for _, e := range l.entries {
			msgs = append(msgs, e.msg)
		}
	}

	msgs = sanitize(msgs)

	var out []modelrelay.Message
	for _, m := range msgs {
		wire := m.Wire()
		if wire.Role == modelrelay.RoleAssistant && !hasTextPart(wire.Parts) {
			wire.Parts = append([]modelrelay.Part{modelrelay.TextPart("")}, wire.Parts...)
		}
		if n := len(out); n > 0 && out[n-1].Role == wire.Role {
			out[n-1].Parts = appendCollapsing(out[n-1].Parts, wire.Parts)
			continue
		}
		wire.Parts = collapseText(wire.Parts)
		out = append(out, wire)
	}
	return out
}

// DB materializes the storage sequence: sanitized, original message records
// preserved, no system override and no fragment collapsing.
func (l *List) DB() []Message {
	msgs := make([]Message, 0, len(l.entries))
	for _, e := range l.entries {
		msgs = append(msgs, e.msg)
	}
	return sanitize(msgs)
}

// Persistable materializes the messages this run introduced (user input and
// accepted responses), sanitized. Recalled memory messages already live in
// storage and are excluded.
func (l *List) Persistable() []Message {
	msgs := make([]Message, 0, len(l.entries))
	for _, e := range l.entries {
		if e.origin == OriginUser || e.origin == OriginResponse {
			msgs = append(msgs, e.msg)
		}
	}
	return sanitize(msgs)
}

// sanitize drops tool-call parts that have no matching result anywhere in
// the sequence. A result without its originating call is kept: it implies
// the call completed. Messages left with no parts are dropped.
func sanitize(msgs []Message) []Message {
	resolved := make(map[string]bool)
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind == modelrelay.PartToolResult && p.ToolResult != nil {
				resolved[p.ToolResult.ToolCallID] = true
			}
		}
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		kept := make([]modelrelay.Part, 0, len(m.Parts))
		dropped := false
		for _, p := range m.Parts {
			if p.Kind == modelrelay.PartToolCall && p.ToolCall != nil && !resolved[p.ToolCall.ID] {
				dropped = true
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 && dropped {
			continue
		}
		m.Parts = kept
		out = append(out, m)
	}
	return out
}

func hasTextPart(parts []modelrelay.Part) bool {
	for _, p := range parts {
		if p.Kind == modelrelay.PartText {
			return true
		}
	}
	return false
}

// appendCollapsing appends parts to existing, concatenating a leading text
// part into a trailing one (streaming deltas of one turn become one part).
func appendCollapsing(existing, add []modelrelay.Part) []modelrelay.Part {
	add = collapseText(add)
	for _, p := range add {
		if n := len(existing); n > 0 && p.Kind == modelrelay.PartText && existing[n-1].Kind == modelrelay.PartText {
			existing[n-1].Text += p.Text
			continue
		}
		existing = append(existing, p)
	}
	return existing
}

// collapseText merges adjacent text parts within one message.
func collapseText(parts []modelrelay.Part) []modelrelay.Part {
	out := make([]modelrelay.Part, 0, len(parts))
	for _, p := range parts {
		if n := len(out); n > 0 && p.Kind == modelrelay.PartText && out[n-1].Kind == modelrelay.PartText {
			out[n-1].Text += p.Text
			continue
		}
		out = append(out, p)
	}
	return out
}
