package steploop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/martinemde/conductor/messagelist"
	"github.com/martinemde/conductor/modelrelay"
	"github.com/martinemde/conductor/observe"
	"github.com/martinemde/conductor/store"
)

// Phase labels where in the step state machine the loop currently is.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhasePreparing        Phase = "preparing"
	PhaseAwaitingModel    Phase = "awaiting_model"
	PhaseToolExecution    Phase = "tool_execution"
	PhaseOutputProcessing Phase = "output_processing"
	PhaseRetry            Phase = "retry"
	PhaseComplete         Phase = "complete"
	PhaseTripwire         Phase = "tripwire"
)

// LoopError wraps a fatal failure with the phase and step it occurred in.
type LoopError struct {
	Phase Phase
	Step  int
	Cause error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("step loop failed in %s (step %d): %v", e.Phase, e.Step, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// ModelCaller is the model-invocation collaborator. *modelrelay.Client
// satisfies it; tests inject scripted fakes.
type ModelCaller interface {
	Complete(ctx context.Context, req modelrelay.Request) (*modelrelay.Response, error)
	Stream(ctx context.Context, req modelrelay.Request) (<-chan modelrelay.StreamEvent, error)
}

// RunConfig wires a Runner's collaborators and bounds.
type RunConfig struct {
	Client ModelCaller
	Store  store.Store

	// Processors run in order at every hook they implement.
	Processors []Processor

	// MaxSteps bounds logical steps (model invocations that advance the
	// conversation). Processor retries do not consume this budget.
	MaxSteps int

	// MaxProcessorRetries bounds per-step regenerations requested by
	// processors. The counter resets when a step is accepted. Zero selects
	// the default of 2; a negative value disables retries, so every retry
	// tripwire terminates the run.
	MaxProcessorRetries int

	// PrepareStep is a caller-supplied per-step hook, run after the
	// configured InputStepProcessors. It may raise a tripwire.
	PrepareStep func(ctx context.Context, args InputStepArgs) (StepOverrides, error)

	// OnError observes the fatal error of a run. The same error value is
	// passed here, carried on the error chunk, and set on Result.Err.
	OnError func(error)

	Title      *TitleConfig
	Limits     ToolLimits
	BufferSize int
	Logger     zerolog.Logger
	Metrics    *observe.Metrics
}

func (c *RunConfig) applyDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 8
	}
	if c.MaxProcessorRetries < 0 {
		c.MaxProcessorRetries = 0
	} else if c.MaxProcessorRetries == 0 {
		c.MaxProcessorRetries = 2
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
}

// Runner executes an Agent against a thread. One Runner may serve many
// sequential runs; each run owns its own message list.
type Runner struct {
	agent *Agent
	cfg   RunConfig
	log   zerolog.Logger
}

// NewRunner creates a Runner for the agent.
func NewRunner(agent *Agent, cfg RunConfig) (*Runner, error) {
	if agent == nil {
		return nil, errors.New("steploop: agent is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("steploop: model client is required")
	}
	cfg.applyDefaults()
	return &Runner{
		agent: agent,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("agent", agent.Name).Logger(),
	}, nil
}

// Request describes one run.
type Request struct {
	ThreadID   string
	ResourceID string

	// Text is shorthand for a single user message.
	Text string
	// Messages is the full input when Text is not enough.
	Messages []messagelist.Message

	Metadata map[string]any
}

// Step records one accepted (or tripwired) iteration of the loop.
type Step struct {
	Index        int
	Text         string
	ToolCalls    []modelrelay.ToolCallData
	ToolResults  []modelrelay.ToolResultData
	Tripwire     *Tripwire
	Usage        modelrelay.Usage
	Duration     time.Duration
	RetryCount   int
	FinishReason modelrelay.FinishReason
}

// Result is the non-streaming return shape of a run.
type Result struct {
	ThreadID     string
	Text         string
	Object       any
	Steps        []Step
	Tripwire     *Tripwire
	FinishReason modelrelay.FinishReason
	Usage        modelrelay.Usage
	Err          error
}

// Generate runs the loop to completion and returns the assembled result.
// A tripwire is not an error: the Result carries it and err is nil.
func (r *Runner) Generate(ctx context.Context, req Request) (*Result, error) {
	return r.run(ctx, req, nil)
}

// Stream runs the loop while emitting typed chunks. The channel closes when
// the run ends; the final chunk is either finish (carrying the Result),
// tripwire, or error.
func (r *Runner) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	em := newEmitter(r.cfg.BufferSize)
	go func() {
		defer em.close()
		result, err := r.run(ctx, req, em)
		if err != nil {
			return // the error chunk was already emitted inside run
		}
		if result.Tripwire == nil {
			em.emit(ctx, Chunk{Kind: ChunkFinish, Result: result})
		}
	}()
	return em.ch, nil
}

// run is the state machine shared by Generate and Stream. em is nil on the
// generate path.
func (r *Runner) run(ctx context.Context, req Request, em *emitter) (*Result, error) {
	started := time.Now()
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	log := r.log.With().Str("thread_id", threadID).Logger()
	if len(req.Metadata) > 0 {
		// Run metadata becomes log fields, minus high-cardinality identifiers.
		labels := make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			if s, ok := v.(string); ok {
				labels[k] = s
			}
		}
		lc := log.With()
		for k, v := range observe.FilterLabels(labels) {
			lc = lc.Str(k, v)
		}
		log = lc.Logger()
	}

	result := &Result{ThreadID: threadID}

	fail := func(phase Phase, step int, cause error) (*Result, error) {
		// The same error value flows to the callback, the error chunk,
		// and the result field.
		err := cause
		if r.cfg.OnError != nil {
			r.cfg.OnError(err)
		}
		if em != nil {
			em.emit(context.Background(), Chunk{Kind: ChunkError, Err: err})
		}
		result.Err = err
		result.FinishReason = modelrelay.FinishError
		r.cfg.Metrics.ObserveRun("error", time.Since(started))
		log.Error().Str("phase", string(phase)).Int("step", step).Err(err).Msg("run failed")
		return result, err
	}

	// The thread record is created before any model call so storage backends
	// observe a consistent ledger even if the call fails before content.
	thread, firstMessage, err := r.ensureThread(ctx, threadID, req)
	if err != nil {
		return fail(PhasePreparing, 0, err)
	}

	list := messagelist.New()
	if r.cfg.Store != nil && !firstMessage {
		recalled, err := r.cfg.Store.Recall(ctx, store.RecallQuery{ThreadID: threadID})
		if err != nil {
			return fail(PhasePreparing, 0, err)
		}
		list.AddAll(recalled, messagelist.OriginMemory)
	}

	// Copy before stamping ids so the caller's slice and messages are
	// never written to.
	inputMsgs := append([]messagelist.Message(nil), req.Messages...)
	if req.Text != "" {
		inputMsgs = append(inputMsgs, messagelist.NewUserMessage(req.Text))
	}
	var firstUserText string
	for i := range inputMsgs {
		inputMsgs[i].ThreadID = threadID
		if inputMsgs[i].ResourceID == "" {
			inputMsgs[i].ResourceID = req.ResourceID
		}
		if firstUserText == "" && inputMsgs[i].Role == modelrelay.RoleUser {
			firstUserText = inputMsgs[i].Text()
		}
	}
	list.AddAll(inputMsgs, messagelist.OriginUser)

	registry := registryFrom(r.agent.Tools)

	stepIndex := 0
	retryCount := 0
	modelCalls := 0
	var feedback []string
	var lastFinish modelrelay.FinishReason

	terminate := func(tw *Tripwire, phase Phase) (*Result, error) {
		result.Tripwire = tw
		result.FinishReason = modelrelay.FinishOther
		result.Steps = append(result.Steps, Step{
			Index:      stepIndex,
			Tripwire:   tw,
			RetryCount: retryCount,
		})
		r.cfg.Metrics.ObserveTripwire(tw.ProcessorID)
		r.cfg.Metrics.ObserveRun("tripwire", time.Since(started))
		log.Warn().Str("phase", string(phase)).Str("processor", tw.ProcessorID).Str("reason", tw.Reason).Msg("tripwire raised")
		if em != nil {
			em.emit(ctx, Chunk{Kind: ChunkTripwire, Tripwire: tw})
		}
		if err := r.persist(ctx, list); err != nil {
			log.Warn().Err(err).Msg("persisting messages after tripwire failed")
		}
		return result, nil
	}

	for stepIndex < r.cfg.MaxSteps {
		stepStarted := time.Now()

		// Preparing: input hooks see the baseline prompt first, then the
		// input-step hooks may override tools, system, model, or provider.
		model := r.agent.Model
		provider := r.agent.Provider
		stepRegistry := registry

		prompt := assemblePrompt(r.agent.Instructions, feedback, list)
		prompt, tw, err := runInput(ctx, r.cfg.Processors, prompt, retryCount)
		if err != nil {
			return fail(PhasePreparing, stepIndex, err)
		}
		if tw != nil {
			// Aborts before the model call terminate regardless of Retry.
			return terminate(tw, PhasePreparing)
		}

		overrides, tw, err := runInputStep(ctx, r.cfg.Processors, retryCount)
		if err != nil {
			return fail(PhasePreparing, stepIndex, err)
		}
		if tw == nil && r.cfg.PrepareStep != nil {
			ov, err := r.cfg.PrepareStep(ctx, InputStepArgs{RetryCount: retryCount})
			if err != nil {
				return fail(PhasePreparing, stepIndex, err)
			}
			if ov.Tripwire != nil {
				tw = ov.Tripwire
			} else {
				if ov.Tools != nil {
					overrides.Tools = ov.Tools
				}
				if ov.System != "" {
					overrides.System = ov.System
				}
				if ov.Model != "" {
					overrides.Model = ov.Model
				}
				if ov.Provider != "" {
					overrides.Provider = ov.Provider
				}
			}
		}
		if tw != nil {
			return terminate(tw, PhasePreparing)
		}
		if overrides.Tools != nil {
			stepRegistry = registryFrom(overrides.Tools)
		}
		if overrides.System != "" {
			prompt = overrideSystem(prompt, overrides.System)
		}
		if overrides.Model != "" {
			model = overrides.Model
		}
		if overrides.Provider != "" {
			provider = overrides.Provider
		}

		// AwaitingModel. states and seen scope the chunk pipeline to this
		// attempt, spanning the model stream and the tool chunks after it.
		mreq := modelrelay.Request{
			Model:    model,
			Provider: provider,
			Messages: prompt,
			Tools:    stepRegistry.Defs(),
		}
		states := make(map[string]map[string]any)
		var seen []Chunk
		modelCalls++
		callStarted := time.Now()
		resp, err := r.invokeModel(ctx, mreq, em, retryCount, states, &seen)
		r.cfg.Metrics.ObserveModelCall(time.Since(callStarted))
		if err != nil {
			var st *streamTripwire
			if errors.As(err, &st) {
				// A mid-stream tripwire follows the same retry protocol as
				// output-phase tripwires.
				if st.tw.Retry && retryCount < r.cfg.MaxProcessorRetries {
					feedback = append(feedback, st.tw.Reason)
					retryCount++
					r.cfg.Metrics.ObserveRetry(st.tw.ProcessorID)
					continue
				}
				return terminate(st.tw, PhaseOutputProcessing)
			}
			// Nothing from this step is persisted; the thread row already
			// exists from the upfront save.
			return fail(PhaseAwaitingModel, stepIndex, err)
		}
		lastFinish = resp.FinishReason

		text := resp.Text()
		toolCalls := resp.Message.ToolCalls()

		// ToolExecution.
		var toolResults []modelrelay.ToolResultData
		if len(toolCalls) > 0 {
			if em != nil {
				for i := range toolCalls {
					r.emitThroughPipeline(ctx, em, Chunk{Kind: ChunkToolCall, ToolCall: &toolCalls[i]}, retryCount, states, &seen)
				}
			}
			toolResults = executeToolCalls(ctx, stepRegistry, toolCalls, r.cfg.Limits, log, r.cfg.Metrics)
			if em != nil {
				for i := range toolResults {
					kind := ChunkToolResult
					if toolResults[i].IsError {
						kind = ChunkToolError
					}
					r.emitThroughPipeline(ctx, em, Chunk{Kind: kind, ToolResult: &toolResults[i]}, retryCount, states, &seen)
				}
			}
		}

		// Candidate messages are held outside the list until the step is
		// accepted; a retry discards them so the rejected response is never
		// replayed to the model.
		candidates := r.candidateMessages(threadID, req.ResourceID, resp, toolResults)

		// OutputProcessing.
		outMsgs, tw, err := runOutputResult(ctx, r.cfg.Processors, candidates, retryCount)
		if err != nil {
			return fail(PhaseOutputProcessing, stepIndex, err)
		}
		if tw == nil {
			candidates = outMsgs
			tw, err = runOutputStep(ctx, r.cfg.Processors, OutputStepArgs{Text: text, ToolCalls: toolCalls, RetryCount: retryCount})
			if err != nil {
				return fail(PhaseOutputProcessing, stepIndex, err)
			}
		}
		if tw != nil {
			if tw.Retry && retryCount < r.cfg.MaxProcessorRetries {
				feedback = append(feedback, tw.Reason)
				retryCount++
				r.cfg.Metrics.ObserveRetry(tw.ProcessorID)
				log.Info().Int("retry", retryCount).Str("processor", tw.ProcessorID).Str("reason", tw.Reason).Msg("step retry requested")
				continue
			}
			return terminate(tw, PhaseOutputProcessing)
		}

		// Accepted.
		for _, m := range candidates {
			list.Add(m, messagelist.OriginResponse)
		}
		step := Step{
			Index:        stepIndex,
			Text:         text,
			ToolCalls:    toolCalls,
			ToolResults:  toolResults,
			Usage:        resp.Usage,
			Duration:     time.Since(stepStarted),
			RetryCount:   retryCount,
			FinishReason: resp.FinishReason,
		}
		result.Steps = append(result.Steps, step)
		result.Usage = result.Usage.Add(resp.Usage)
		r.cfg.Metrics.ObserveStep()
		if em != nil {
			em.emit(ctx, Chunk{Kind: ChunkStepFinish, Step: &StepSummary{
				Index:        stepIndex,
				Text:         text,
				FinishReason: resp.FinishReason,
				Usage:        resp.Usage,
				RetryCount:   retryCount,
			}})
		}
		feedback = nil
		retryCount = 0
		stepIndex++

		if resp.FinishReason == modelrelay.FinishToolCalls && len(toolCalls) > 0 {
			continue
		}
		break
	}

	// Complete: persist and assemble. Running out of step budget is a
	// best-effort result, not an error.
	if err := r.persist(ctx, list); err != nil {
		return fail(PhaseComplete, stepIndex, err)
	}

	for i := len(result.Steps) - 1; i >= 0; i-- {
		if result.Steps[i].Tripwire == nil {
			result.Text = result.Steps[i].Text
			break
		}
	}
	result.FinishReason = lastFinish
	r.cfg.Metrics.ObserveRun("complete", time.Since(started))
	log.Debug().Int("steps", stepIndex).Int("model_calls", modelCalls).Msg("run complete")

	r.maybeGenerateTitle(ctx, thread, firstMessage, firstUserText)

	return result, nil
}

// ensureThread loads or creates the thread record, saving it before any
// model call. firstMessage reports whether the thread had no prior history.
func (r *Runner) ensureThread(ctx context.Context, threadID string, req Request) (*store.Thread, bool, error) {
	if r.cfg.Store == nil {
		return &store.Thread{ID: threadID, ResourceID: req.ResourceID}, true, nil
	}

	thread, err := r.cfg.Store.GetThreadByID(ctx, threadID)
	firstMessage := false
	if errors.Is(err, store.ErrNotFound) {
		thread = &store.Thread{ID: threadID, ResourceID: req.ResourceID, Metadata: req.Metadata}
		firstMessage = true
	} else if err != nil {
		return nil, false, err
	}

	if err := r.cfg.Store.SaveThread(ctx, thread); err != nil {
		return nil, false, err
	}
	return thread, firstMessage, nil
}

func (r *Runner) persist(ctx context.Context, list *messagelist.List) error {
	if r.cfg.Store == nil {
		return nil
	}
	msgs := list.Persistable()
	if len(msgs) == 0 {
		return nil
	}
	return r.cfg.Store.SaveMessages(ctx, msgs)
}

// invokeModel calls the model, streaming when the run is streaming. The
// returned error keeps its original identity. states and seen carry the
// step attempt's chunk-pipeline context, shared with the tool chunks
// emitted after the stream ends.
func (r *Runner) invokeModel(ctx context.Context, mreq modelrelay.Request, em *emitter, retryCount int, states map[string]map[string]any, seen *[]Chunk) (*modelrelay.Response, error) {
	if em == nil {
		return r.cfg.Client.Complete(ctx, mreq)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := r.cfg.Client.Stream(streamCtx, mreq)
	if err != nil {
		return nil, err
	}
	// Adapters that do not select on ctx block on a full channel buffer. An
	// early return (tripwire, pipeline error, stream error) leaves the rest
	// of the stream to a draining goroutine so the producer can finish and
	// close the channel.
	drained := false
	defer func() {
		if drained {
			return
		}
		go func() {
			for range events {
			}
		}()
	}()

	acc := modelrelay.NewAccumulator()
	for ev := range events {
		acc.Process(ev)
		if ev.Type == modelrelay.EventError && ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Type != modelrelay.EventTextDelta {
			continue
		}
		chunk := Chunk{Kind: ChunkTextDelta, Text: ev.Delta}
		out, tw, err := chunkPipeline(ctx, r.cfg.Processors, chunk, *seen, states, retryCount)
		if err != nil {
			return nil, err
		}
		if tw != nil {
			// A stream tripwire halts the remainder of this step's stream.
			return nil, &streamTripwire{tw: tw}
		}
		if out == nil {
			continue // filtered
		}
		*seen = append(*seen, *out)
		em.emit(ctx, *out)
	}
	drained = true
	if err := acc.Err(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return acc.Response(), nil
}

// streamTripwire carries a mid-stream tripwire out of invokeModel.
type streamTripwire struct {
	tw *Tripwire
}

func (e *streamTripwire) Error() string {
	return "stream halted by tripwire: " + e.tw.Reason
}

func (r *Runner) emitThroughPipeline(ctx context.Context, em *emitter, chunk Chunk, retryCount int, states map[string]map[string]any, seen *[]Chunk) {
	out, tw, err := chunkPipeline(ctx, r.cfg.Processors, chunk, *seen, states, retryCount)
	if err != nil || tw != nil || out == nil {
		return
	}
	*seen = append(*seen, *out)
	em.emit(ctx, *out)
}

// candidateMessages builds the step's assistant and tool messages. They are
// not added to the list until the step is accepted.
func (r *Runner) candidateMessages(threadID, resourceID string, resp *modelrelay.Response, toolResults []modelrelay.ToolResultData) []messagelist.Message {
	var out []messagelist.Message

	assistant := messagelist.NewMessage(modelrelay.RoleAssistant, resp.Message.Parts...)
	assistant.ThreadID = threadID
	assistant.ResourceID = resourceID
	out = append(out, assistant)

	for i := range toolResults {
		tr := toolResults[i]
		msg := messagelist.NewMessage(modelrelay.RoleTool, modelrelay.Part{
			Kind:       modelrelay.PartToolResult,
			ToolResult: &tr,
		})
		msg.ThreadID = threadID
		msg.ResourceID = resourceID
		out = append(out, msg)
	}
	return out
}

// overrideSystem swaps the prompt's system baseline for the step's override
// without disturbing the rest of the prompt.
func overrideSystem(prompt []modelrelay.Message, system string) []modelrelay.Message {
	out := append([]modelrelay.Message(nil), prompt...)
	if len(out) > 0 && out[0].Role == modelrelay.RoleSystem {
		out[0] = modelrelay.SystemMessage(system)
		return out
	}
	return append([]modelrelay.Message{modelrelay.SystemMessage(system)}, out...)
}

// assemblePrompt builds the wire messages for one attempt: the step's system
// baseline, the canonical history, then transient retry feedback. Feedback
// lives only in the outgoing prompt; it is never added to the list.
func assemblePrompt(systemText string, feedback []string, list *messagelist.List) []modelrelay.Message {
	var prompt []modelrelay.Message
	if systemText != "" {
		prompt = append(prompt, modelrelay.SystemMessage(systemText))
	}
	prompt = append(prompt, list.Core()...)
	for _, reason := range feedback {
		prompt = append(prompt, modelrelay.SystemMessage(
			"Your previous response was rejected: "+reason+" Generate a new response that addresses this feedback."))
	}
	return prompt
}
