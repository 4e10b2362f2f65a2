// Package steploop drives the agentic step loop: it turns one user request
// into a sequence of model calls, tool executions, and message-list
// mutations, with pluggable processors that can transform, veto, or retry
// any step.
package steploop

import (
	"context"

	"github.com/martinemde/conductor/messagelist"
	"github.com/martinemde/conductor/modelrelay"
)

// Tripwire is a terminal, policy-driven stop verdict raised by a processor.
// It is not an error: processors return it as a tagged result, and the loop
// inspects the tag to decide stop versus retry.
type Tripwire struct {
	Reason      string         `json:"reason"`
	Retry       bool           `json:"retry,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ProcessorID string         `json:"processor_id,omitempty"`
}

// Abort builds a non-retry tripwire verdict.
func Abort(reason string) *Tripwire {
	return &Tripwire{Reason: reason}
}

// AbortRetry builds a tripwire verdict asking the loop to regenerate the
// current step.
func AbortRetry(reason string) *Tripwire {
	return &Tripwire{Reason: reason, Retry: true}
}

// Processor is the base identity every pipeline unit carries. Concrete
// processors additionally implement any subset of the hook interfaces
// below; the pipeline checks capability by interface assertion.
type Processor interface {
	ID() string
}

// InputArgs is passed to InputProcessor hooks.
type InputArgs struct {
	Messages   []modelrelay.Message
	RetryCount int
}

// InputResult carries an input hook's verdict. A nil Tripwire means the
// (possibly transformed) messages flow to the next processor.
type InputResult struct {
	Messages []modelrelay.Message
	Tripwire *Tripwire
}

// InputProcessor runs once per step before the model call, sequentially,
// each processor receiving the previous processor's output.
type InputProcessor interface {
	Processor
	ProcessInput(ctx context.Context, args InputArgs) (InputResult, error)
}

// InputStepArgs is passed to InputStepProcessor hooks.
type InputStepArgs struct {
	RetryCount int
}

// StepOverrides mutates step-scoped settings without touching message
// content. Zero-value fields leave the corresponding setting alone.
type StepOverrides struct {
	Tools    []*Tool
	System   string
	Model    string
	Provider string
	Tripwire *Tripwire
}

// InputStepProcessor is a lighter input hook for step-scoped mutation,
// e.g. swapping tools or the model for this step only.
type InputStepProcessor interface {
	Processor
	ProcessInputStep(ctx context.Context, args InputStepArgs) (StepOverrides, error)
}

// OutputArgs is passed to OutputResultProcessor hooks.
type OutputArgs struct {
	Messages   []messagelist.Message
	RetryCount int
}

// OutputResult carries an output-result hook's verdict.
type OutputResult struct {
	Messages []messagelist.Message
	Tripwire *Tripwire
}

// OutputResultProcessor runs once against the fully materialized response
// messages of a step.
type OutputResultProcessor interface {
	Processor
	ProcessOutputResult(ctx context.Context, args OutputArgs) (OutputResult, error)
}

// ChunkArgs is passed to StreamProcessor hooks for every emitted chunk.
// Seen holds the chunks already emitted for this step attempt, model stream
// and tool chunks alike; State is a scratch map shared across the attempt's
// chunk invocations of the same processor. A retry starts a fresh attempt
// with empty Seen and State, since the rejected output is discarded.
type ChunkArgs struct {
	Chunk      Chunk
	Seen       []Chunk
	State      map[string]any
	RetryCount int
}

// ChunkResult carries a stream hook's verdict. A nil Chunk filters the
// chunk from the output stream.
type ChunkResult struct {
	Chunk    *Chunk
	Tripwire *Tripwire
}

// StreamProcessor runs per emitted chunk in streaming mode.
type StreamProcessor interface {
	Processor
	ProcessChunk(ctx context.Context, args ChunkArgs) (ChunkResult, error)
}

// OutputStepArgs is passed to OutputStepProcessor hooks once the full
// step text is known.
type OutputStepArgs struct {
	Text       string
	ToolCalls  []modelrelay.ToolCallData
	RetryCount int
}

// StepVerdict carries an output-step hook's verdict.
type StepVerdict struct {
	Tripwire *Tripwire
}

// OutputStepProcessor gates accept/retry decisions that need the complete
// response; it runs on both the generate and stream paths.
type OutputStepProcessor interface {
	Processor
	ProcessOutputStep(ctx context.Context, args OutputStepArgs) (StepVerdict, error)
}

// runInput runs the input hooks of processors in order. The first tripwire
// short-circuits the remaining input processors. Hook errors propagate
// unwrapped.
func runInput(ctx context.Context, procs []Processor, msgs []modelrelay.Message, retryCount int) ([]modelrelay.Message, *Tripwire, error) {
	for _, p := range procs {
		ip, ok := p.(InputProcessor)
		if !ok {
			continue
		}
		res, err := ip.ProcessInput(ctx, InputArgs{Messages: msgs, RetryCount: retryCount})
		if err != nil {
			return nil, nil, err
		}
		if res.Tripwire != nil {
			tw := *res.Tripwire
			if tw.ProcessorID == "" {
				tw.ProcessorID = p.ID()
			}
			return nil, &tw, nil
		}
		if res.Messages != nil {
			msgs = res.Messages
		}
	}
	return msgs, nil, nil
}

// runInputStep runs the input-step hooks in order, folding their overrides
// left to right.
func runInputStep(ctx context.Context, procs []Processor, retryCount int) (StepOverrides, *Tripwire, error) {
	var merged StepOverrides
	for _, p := range procs {
		ip, ok := p.(InputStepProcessor)
		if !ok {
			continue
		}
		ov, err := ip.ProcessInputStep(ctx, InputStepArgs{RetryCount: retryCount})
		if err != nil {
			return StepOverrides{}, nil, err
		}
		if ov.Tripwire != nil {
			tw := *ov.Tripwire
			if tw.ProcessorID == "" {
				tw.ProcessorID = p.ID()
			}
			return StepOverrides{}, &tw, nil
		}
		if ov.Tools != nil {
			merged.Tools = ov.Tools
		}
		if ov.System != "" {
			merged.System = ov.System
		}
		if ov.Model != "" {
			merged.Model = ov.Model
		}
		if ov.Provider != "" {
			merged.Provider = ov.Provider
		}
	}
	return merged, nil, nil
}

// runOutputResult runs the output-result hooks in order.
func runOutputResult(ctx context.Context, procs []Processor, msgs []messagelist.Message, retryCount int) ([]messagelist.Message, *Tripwire, error) {
	for _, p := range procs {
		op, ok := p.(OutputResultProcessor)
		if !ok {
			continue
		}
		res, err := op.ProcessOutputResult(ctx, OutputArgs{Messages: msgs, RetryCount: retryCount})
		if err != nil {
			return nil, nil, err
		}
		if res.Tripwire != nil {
			tw := *res.Tripwire
			if tw.ProcessorID == "" {
				tw.ProcessorID = p.ID()
			}
			return nil, &tw, nil
		}
		if res.Messages != nil {
			msgs = res.Messages
		}
	}
	return msgs, nil, nil
}

// runOutputStep runs the output-step hooks in order.
func runOutputStep(ctx context.Context, procs []Processor, args OutputStepArgs) (*Tripwire, error) {
	for _, p := range procs {
		op, ok := p.(OutputStepProcessor)
		if !ok {
			continue
		}
		verdict, err := op.ProcessOutputStep(ctx, args)
		if err != nil {
			return nil, err
		}
		if verdict.Tripwire != nil {
			tw := *verdict.Tripwire
			if tw.ProcessorID == "" {
				tw.ProcessorID = p.ID()
			}
			return &tw, nil
		}
	}
	return nil, nil
}

// chunkPipeline runs a single chunk through the stream hooks. A nil chunk
// return means the chunk was filtered out.
func chunkPipeline(ctx context.Context, procs []Processor, chunk Chunk, seen []Chunk, states map[string]map[string]any, retryCount int) (*Chunk, *Tripwire, error) {
	current := &chunk
	for _, p := range procs {
		sp, ok := p.(StreamProcessor)
		if !ok {
			continue
		}
		state := states[p.ID()]
		if state == nil {
			state = make(map[string]any)
			states[p.ID()] = state
		}
		res, err := sp.ProcessChunk(ctx, ChunkArgs{Chunk: *current, Seen: seen, State: state, RetryCount: retryCount})
		if err != nil {
			return nil, nil, err
		}
		if res.Tripwire != nil {
			tw := *res.Tripwire
			if tw.ProcessorID == "" {
				tw.ProcessorID = p.ID()
			}
			return nil, &tw, nil
		}
		if res.Chunk == nil {
			return nil, nil, nil
		}
		current = res.Chunk
	}
	return current, nil, nil
}
