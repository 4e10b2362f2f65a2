package steploop

import (
	"context"

	"github.com/martinemde/conductor/modelrelay"
)

// ChunkKind identifies the kind of a streamed chunk.
type ChunkKind string

const (
	ChunkTextDelta  ChunkKind = "text-delta"
	ChunkToolCall   ChunkKind = "tool-call"
	ChunkToolResult ChunkKind = "tool-result"
	ChunkToolError  ChunkKind = "tool-error"
	ChunkTripwire   ChunkKind = "tripwire"
	ChunkStepFinish ChunkKind = "step-finish"
	ChunkFinish     ChunkKind = "finish"
	ChunkError      ChunkKind = "error"
)

// Chunk is one typed unit of a run's output stream.
type Chunk struct {
	Kind       ChunkKind                  `json:"kind"`
	Text       string                     `json:"text,omitempty"`
	ToolCall   *modelrelay.ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *modelrelay.ToolResultData `json:"tool_result,omitempty"`
	Tripwire   *Tripwire                  `json:"tripwire,omitempty"`
	Step       *StepSummary               `json:"step,omitempty"`
	Result     *Result                    `json:"result,omitempty"`
	Err        error                      `json:"-"`
}

// StepSummary rides on step-finish chunks.
type StepSummary struct {
	Index        int                     `json:"index"`
	Text         string                  `json:"text"`
	FinishReason modelrelay.FinishReason `json:"finish_reason"`
	Usage        modelrelay.Usage        `json:"usage"`
	RetryCount   int                     `json:"retry_count"`
}

// emitter pushes chunks onto a channel, respecting cancellation. Sends
// block; backpressure is the consumer's pace.
type emitter struct {
	ch chan Chunk
}

func newEmitter(buffer int) *emitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &emitter{ch: make(chan Chunk, buffer)}
}

// emit sends a chunk, returning false if ctx was cancelled first.
func (e *emitter) emit(ctx context.Context, c Chunk) bool {
	select {
	case e.ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *emitter) close() {
	close(e.ch)
}
