package modelrelay

import "strings"

// Accumulator folds stream events into a complete Response. It is used by
// callers that consume a stream but still need the materialized message at
// the end.
type Accumulator struct {
	text         strings.Builder
	toolCalls    []ToolCallData
	finishReason FinishReason
	usage        *Usage
	response     *Response
	err          error
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Process ingests a single stream event.
func (a *Accumulator) Process(ev StreamEvent) {
	switch ev.Type {
	case EventTextDelta:
		a.text.WriteString(ev.Delta)
	case EventToolCall:
		if ev.ToolCall != nil {
			a.toolCalls = append(a.toolCalls, *ev.ToolCall)
		}
	case EventFinish:
		a.finishReason = ev.FinishReason
		a.usage = ev.Usage
		a.response = ev.Response
	case EventError:
		a.err = ev.Err
	}
}

// Err returns the stream error, if any event carried one.
func (a *Accumulator) Err() error {
	return a.err
}

// Response returns the accumulated response. If the stream carried a final
// Response it is returned as-is; otherwise one is assembled from the
// accumulated deltas.
func (a *Accumulator) Response() *Response {
	if a.response != nil {
		return a.response
	}

	var parts []Part
	if a.text.Len() > 0 || len(a.toolCalls) == 0 {
		parts = append(parts, TextPart(a.text.String()))
	}
	for _, tc := range a.toolCalls {
		parts = append(parts, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := a.finishReason
	if fr == "" {
		fr = FinishStop
	}
	if len(a.toolCalls) > 0 && fr == FinishStop {
		fr = FinishToolCalls
	}

	usage := Usage{}
	if a.usage != nil {
		usage = *a.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Parts: parts},
		FinishReason: fr,
		Usage:        usage,
	}
}
