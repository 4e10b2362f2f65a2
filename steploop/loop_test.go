package steploop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/conductor/messagelist"
	"github.com/martinemde/conductor/modelrelay"
	"github.com/martinemde/conductor/store"
)

// scriptedCaller is a ModelCaller driven by a per-call script. The script
// receives the zero-based call number and the request.
type scriptedCaller struct {
	mu        sync.Mutex
	script    func(n int, req modelrelay.Request) (*modelrelay.Response, error)
	calls     []modelrelay.Request
	deltaSize int // streaming: characters per text delta (0 = whole text)
}

func (c *scriptedCaller) Complete(ctx context.Context, req modelrelay.Request) (*modelrelay.Response, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	return c.script(n, req)
}

func (c *scriptedCaller) Stream(ctx context.Context, req modelrelay.Request) (<-chan modelrelay.StreamEvent, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan modelrelay.StreamEvent, 64)
	go func() {
		defer close(ch)
		ch <- modelrelay.StreamEvent{Type: modelrelay.EventStart}
		text := resp.Text()
		size := c.deltaSize
		if size <= 0 {
			size = len(text)
		}
		for i := 0; i < len(text); i += size {
			end := i + size
			if end > len(text) {
				end = len(text)
			}
			ch <- modelrelay.StreamEvent{Type: modelrelay.EventTextDelta, Delta: text[i:end]}
		}
		ch <- modelrelay.StreamEvent{Type: modelrelay.EventFinish, FinishReason: resp.FinishReason, Usage: &resp.Usage, Response: resp}
	}()
	return ch, nil
}

func (c *scriptedCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *scriptedCaller) request(n int) modelrelay.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[n]
}

func textResponse(text string) *modelrelay.Response {
	return &modelrelay.Response{
		Model:        "test-model",
		Message:      modelrelay.AssistantMessage(text),
		FinishReason: modelrelay.FinishStop,
		Usage:        modelrelay.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(callID, name string, args string) *modelrelay.Response {
	return &modelrelay.Response{
		Model: "test-model",
		Message: modelrelay.Message{
			Role:  modelrelay.RoleAssistant,
			Parts: []modelrelay.Part{modelrelay.ToolCallPart(callID, name, json.RawMessage(args))},
		},
		FinishReason: modelrelay.FinishToolCalls,
		Usage:        modelrelay.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func promptText(req modelrelay.Request) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		for _, p := range m.Parts {
			switch p.Kind {
			case modelrelay.PartText:
				sb.WriteString(p.Text)
			case modelrelay.PartToolCall:
				if p.ToolCall != nil {
					sb.WriteString(p.ToolCall.Name)
					sb.WriteString(" ")
					sb.Write(p.ToolCall.Arguments)
				}
			case modelrelay.PartToolResult:
				if p.ToolResult != nil {
					sb.WriteString(p.ToolResult.Name)
					sb.WriteString(" ")
					sb.Write(p.ToolResult.Content)
				}
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func newTestRunner(t *testing.T, caller ModelCaller, cfg RunConfig) *Runner {
	t.Helper()
	cfg.Client = caller
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	cfg.Logger = zerolog.Nop()
	r, err := NewRunner(&Agent{
		Name:         "test-agent",
		Instructions: "You are a concise assistant.",
		Model:        "test-model",
	}, cfg)
	require.NoError(t, err)
	return r
}

// stepGate rejects the first rejections output steps with a retry verdict,
// then accepts.
type stepGate struct {
	id         string
	rejections int
	reason     string
	seen       int
}

func (g *stepGate) ID() string { return g.id }

func (g *stepGate) ProcessOutputStep(ctx context.Context, args OutputStepArgs) (StepVerdict, error) {
	g.seen++
	if g.seen <= g.rejections {
		return StepVerdict{Tripwire: AbortRetry(g.reason)}, nil
	}
	return StepVerdict{}, nil
}

// inputBlocker aborts during input processing.
type inputBlocker struct {
	reason string
}

func (b *inputBlocker) ID() string { return "input-blocker" }

func (b *inputBlocker) ProcessInput(ctx context.Context, args InputArgs) (InputResult, error) {
	return InputResult{Tripwire: Abort(b.reason)}, nil
}

func TestGenerateFixedText(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("Donald Trump won the 2016 United States presidential election."), nil
	}}
	r := newTestRunner(t, caller, RunConfig{})

	result, err := r.Generate(context.Background(), Request{Text: "Who won the 2016 election?"})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Donald Trump")
	require.Len(t, result.Steps, 1)
	assert.Empty(t, result.Steps[0].ToolCalls)
	assert.Equal(t, modelrelay.FinishStop, result.FinishReason)
}

func TestInputAbortMakesZeroModelCalls(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		t.Fatal("model must not be called")
		return nil, nil
	}}
	r := newTestRunner(t, caller, RunConfig{
		Processors: []Processor{&inputBlocker{reason: "policy says no"}},
	})

	result, err := r.Generate(context.Background(), Request{Text: "hello"})
	require.NoError(t, err, "a tripwire is a result, not an error")
	require.NotNil(t, result.Tripwire)
	assert.Equal(t, "policy says no", result.Tripwire.Reason)
	assert.Equal(t, "input-blocker", result.Tripwire.ProcessorID)
	assert.Equal(t, 0, caller.callCount())
}

func TestRetryThenAccept(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		switch n {
		case 0:
			return textResponse("draft one, too informal"), nil
		case 1:
			return textResponse("draft two, still informal"), nil
		default:
			return textResponse("A polished final answer."), nil
		}
	}}
	gate := &stepGate{id: "tone-gate", rejections: 2, reason: "the tone is too informal"}
	r := newTestRunner(t, caller, RunConfig{
		Processors:          []Processor{gate},
		MaxProcessorRetries: 3,
	})

	result, err := r.Generate(context.Background(), Request{Text: "Explain DNS."})
	require.NoError(t, err)
	assert.Nil(t, result.Tripwire)
	assert.Equal(t, "A polished final answer.", result.Text)
	assert.Equal(t, 3, caller.callCount(), "retries + 1 model invocations")

	// The final prompt must not replay the rejected drafts, but must carry
	// the rejection reason as feedback.
	final := promptText(caller.request(2))
	assert.NotContains(t, final, "draft one")
	assert.NotContains(t, final, "draft two")
	assert.Contains(t, final, "the tone is too informal")
}

func TestRetryExhaustedBecomesTripwire(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("another attempt"), nil
	}}
	gate := &stepGate{id: "never-happy", rejections: 1 << 30, reason: "still not acceptable"}
	r := newTestRunner(t, caller, RunConfig{
		Processors:          []Processor{gate},
		MaxProcessorRetries: 2,
	})

	result, err := r.Generate(context.Background(), Request{Text: "try"})
	require.NoError(t, err)
	require.NotNil(t, result.Tripwire)
	assert.Equal(t, "still not acceptable", result.Tripwire.Reason)
	assert.Equal(t, 3, caller.callCount(), "maxProcessorRetries + 1 model invocations")
}

func TestRetryDoesNotConsumeStepBudget(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("attempt"), nil
	}}
	gate := &stepGate{id: "gate", rejections: 2, reason: "redo"}
	r := newTestRunner(t, caller, RunConfig{
		Processors:          []Processor{gate},
		MaxSteps:            1,
		MaxProcessorRetries: 2,
	})

	result, err := r.Generate(context.Background(), Request{Text: "go"})
	require.NoError(t, err)
	assert.Nil(t, result.Tripwire, "retries must not exhaust the one-step budget")
	assert.Equal(t, 3, caller.callCount())
	assert.Len(t, result.Steps, 1)
	assert.Equal(t, 2, result.Steps[0].RetryCount)
}

func TestToolExecutionLoop(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		if n == 0 {
			return toolCallResponse("call_1", "weather", `{"city":"SF"}`), nil
		}
		return textResponse("It is 72F in SF."), nil
	}}

	executed := false
	r := newTestRunnerWithTools(t, caller, RunConfig{}, []*Tool{{
		ID:          "weather",
		Description: "Look up current weather",
		InputSchema: map[string]any{"type": "object"},
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			executed = true
			return "72F and sunny", nil
		},
	}})

	result, err := r.Generate(context.Background(), Request{Text: "Weather in SF?"})
	require.NoError(t, err)
	assert.True(t, executed)
	require.Len(t, result.Steps, 2)
	assert.Len(t, result.Steps[0].ToolResults, 1)
	assert.Equal(t, "It is 72F in SF.", result.Text)

	// The tool result is fed back to the model on the next step.
	second := promptText(caller.request(1))
	assert.Contains(t, second, "72F and sunny")
}

func TestToolNotFoundContinuesRun(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		if n == 0 {
			return toolCallResponse("call_1", "time_machine", `{}`), nil
		}
		return textResponse("I used the tools I actually have."), nil
	}}

	r := newTestRunnerWithTools(t, caller, RunConfig{}, []*Tool{{
		ID:          "weather",
		Description: "Look up current weather",
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			return "72F", nil
		},
	}})

	result, err := r.Generate(context.Background(), Request{Text: "go back to 1985"})
	require.NoError(t, err)
	assert.Nil(t, result.Tripwire)
	require.Len(t, result.Steps, 2)
	require.Len(t, result.Steps[0].ToolResults, 1)
	assert.True(t, result.Steps[0].ToolResults[0].IsError)

	second := promptText(caller.request(1))
	assert.Contains(t, second, "time_machine")
	assert.Contains(t, second, "not found")
	assert.Contains(t, second, "weather", "the synthesized result lists available tools")
}

func TestToolErrorRecovered(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		if n == 0 {
			return toolCallResponse("call_1", "flaky", `{}`), nil
		}
		return textResponse("The tool failed, but I can still answer."), nil
	}}

	r := newTestRunnerWithTools(t, caller, RunConfig{}, []*Tool{{
		ID: "flaky",
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	}})

	result, err := r.Generate(context.Background(), Request{Text: "use the flaky tool"})
	require.NoError(t, err)
	require.Len(t, result.Steps, 2)
	require.Len(t, result.Steps[0].ToolResults, 1)
	assert.True(t, result.Steps[0].ToolResults[0].IsError)
	assert.Contains(t, promptText(caller.request(1)), "upstream unavailable")
}

func TestModelErrorNoMessagePersistence(t *testing.T) {
	boom := &modelrelay.ServerError{ProviderError: modelrelay.ProviderError{
		RelayError: modelrelay.RelayError{Message: "backend exploded"},
		Retryable:  true,
	}}
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return nil, boom
	}}

	mem := store.NewMemory()
	var callbackErr error
	r := newTestRunner(t, caller, RunConfig{
		Store:   mem,
		OnError: func(err error) { callbackErr = err },
	})

	threadID := "thread-boom"
	result, err := r.Generate(context.Background(), Request{ThreadID: threadID, Text: "hello"})
	require.Error(t, err)

	// The exact same error value everywhere.
	assert.Same(t, error(boom), err)
	assert.Same(t, error(boom), callbackErr)
	assert.Same(t, error(boom), result.Err)

	// Thread row exists; no messages were saved.
	thread, gerr := mem.GetThreadByID(context.Background(), threadID)
	require.NoError(t, gerr)
	assert.Equal(t, threadID, thread.ID)
	assert.Equal(t, 0, mem.MessageCount(threadID))
}

func TestMaxStepsBestEffort(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return toolCallResponse("call", "weather", `{"n":`+string(rune('0'+n))+`}`), nil
	}}
	r := newTestRunnerWithTools(t, caller, RunConfig{MaxSteps: 2}, []*Tool{{
		ID: "weather",
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			return "72F", nil
		},
	}})

	result, err := r.Generate(context.Background(), Request{Text: "loop forever"})
	require.NoError(t, err, "exhausting the step budget is best-effort, not an error")
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, 2, caller.callCount())
}

func TestMemoryRecall(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("Noted."), nil
	}}
	mem := store.NewMemory()
	r := newTestRunner(t, caller, RunConfig{Store: mem})

	threadID := "thread-recall"
	_, err := r.Generate(context.Background(), Request{ThreadID: threadID, Text: "My cat is named Gödel."})
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), Request{ThreadID: threadID, Text: "What is my cat's name?"})
	require.NoError(t, err)

	second := promptText(caller.request(1))
	assert.Contains(t, second, "Gödel", "recalled history reaches the prompt")
}

func TestSystemOverrideViaInputStep(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("ok"), nil
	}}
	r := newTestRunner(t, caller, RunConfig{
		Processors: []Processor{&systemSwapper{system: "Answer only in French."}},
	})

	_, err := r.Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)

	req := caller.request(0)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, modelrelay.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Answer only in French.", req.Messages[0].Text())
}

// phaseRecorder implements both pre-model hooks and records the order the
// loop invokes them in, tagging the input call with the system baseline it
// was shown.
type phaseRecorder struct {
	calls  []string
	system string
}

func (p *phaseRecorder) ID() string { return "phase-recorder" }

func (p *phaseRecorder) ProcessInput(ctx context.Context, args InputArgs) (InputResult, error) {
	label := "input"
	if len(args.Messages) > 0 && args.Messages[0].Role == modelrelay.RoleSystem {
		label += ":" + args.Messages[0].Text()
	}
	p.calls = append(p.calls, label)
	return InputResult{Messages: args.Messages}, nil
}

func (p *phaseRecorder) ProcessInputStep(ctx context.Context, args InputStepArgs) (StepOverrides, error) {
	p.calls = append(p.calls, "input-step")
	return StepOverrides{System: p.system}, nil
}

func TestInputHookRunsBeforeInputStepHook(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("ok"), nil
	}}
	rec := &phaseRecorder{system: "Overridden instructions."}
	r := newTestRunner(t, caller, RunConfig{
		Processors: []Processor{rec},
	})

	_, err := r.Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)

	// The input hook runs first and sees the baseline system, not the
	// override the input-step hook is about to apply.
	require.Equal(t, []string{"input:You are a concise assistant.", "input-step"}, rec.calls)

	// The override still lands in the outgoing prompt.
	req := caller.request(0)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "Overridden instructions.", req.Messages[0].Text())
}

func TestInputTripwireSkipsInputStepHooks(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		t.Fatal("model must not be called")
		return nil, nil
	}}
	rec := &phaseRecorder{}
	r := newTestRunner(t, caller, RunConfig{
		Processors: []Processor{&inputBlocker{reason: "no"}, rec},
	})

	result, err := r.Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	require.NotNil(t, result.Tripwire)
	assert.Empty(t, rec.calls, "later hooks never run once input trips")
}

func TestNegativeMaxProcessorRetriesDisablesRetries(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("attempt"), nil
	}}
	gate := &stepGate{id: "gate", rejections: 1, reason: "redo"}
	r := newTestRunner(t, caller, RunConfig{
		Processors:          []Processor{gate},
		MaxProcessorRetries: -1,
	})

	result, err := r.Generate(context.Background(), Request{Text: "go"})
	require.NoError(t, err)
	require.NotNil(t, result.Tripwire, "a retry verdict terminates when retries are disabled")
	assert.Equal(t, "redo", result.Tripwire.Reason)
	assert.Equal(t, 1, caller.callCount())
}

func TestRequestMessagesNotMutated(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("ok"), nil
	}}
	r := newTestRunner(t, caller, RunConfig{})

	history := make([]messagelist.Message, 1, 4)
	history[0] = messagelist.NewUserMessage("hello")
	neighbor := append(history, messagelist.NewSystemMessage("sentinel"))

	_, err := r.Generate(context.Background(), Request{ThreadID: "t-shared", Text: "and hi", Messages: history})
	require.NoError(t, err)

	assert.Empty(t, history[0].ThreadID, "the caller's message is never stamped")
	assert.Equal(t, "sentinel", neighbor[1].Text(), "the caller's backing array is never overwritten")
}

type systemSwapper struct {
	system string
}

func (s *systemSwapper) ID() string { return "system-swapper" }

func (s *systemSwapper) ProcessInputStep(ctx context.Context, args InputStepArgs) (StepOverrides, error) {
	return StepOverrides{System: s.system}, nil
}

func TestPrepareStepAbort(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		t.Fatal("model must not be called")
		return nil, nil
	}}
	r := newTestRunner(t, caller, RunConfig{
		PrepareStep: func(ctx context.Context, args InputStepArgs) (StepOverrides, error) {
			return StepOverrides{Tripwire: Abort("budget exceeded")}, nil
		},
	})

	result, err := r.Generate(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	require.NotNil(t, result.Tripwire)
	assert.Equal(t, "budget exceeded", result.Tripwire.Reason)
	assert.Equal(t, 0, caller.callCount())
}

func TestTitleGeneration(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Text(), "title") {
			return textResponse("Cat Name Questions"), nil
		}
		return textResponse("Your cat is lovely."), nil
	}}

	mem := store.NewMemory()
	type titleDone struct {
		title string
		err   error
	}
	titled := make(chan titleDone, 1)
	r := newTestRunner(t, caller, RunConfig{
		Store: mem,
		Title: &TitleConfig{
			Model: "test-model",
			OnComplete: func(threadID, title string, err error) {
				titled <- titleDone{title: title, err: err}
			},
		},
	})

	threadID := "thread-title"
	_, err := r.Generate(context.Background(), Request{ThreadID: threadID, Text: "Tell me about my cat."})
	require.NoError(t, err)

	select {
	case done := <-titled:
		require.NoError(t, done.err)
		assert.Equal(t, "Cat Name Questions", done.title)
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never completed")
	}

	thread, err := mem.GetThreadByID(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "Cat Name Questions", thread.Title)
}

func TestTitleErrorSwallowed(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Text(), "title") {
			return nil, errors.New("title model down")
		}
		return textResponse("Main answer."), nil
	}}

	mem := store.NewMemory()
	done := make(chan error, 1)
	r := newTestRunner(t, caller, RunConfig{
		Store: mem,
		Title: &TitleConfig{
			OnComplete: func(threadID, title string, err error) { done <- err },
		},
	})

	threadID := "thread-title-err"
	result, err := r.Generate(context.Background(), Request{ThreadID: threadID, Text: "hello"})
	require.NoError(t, err, "title failures never surface to the caller")
	assert.Equal(t, "Main answer.", result.Text)

	select {
	case terr := <-done:
		require.Error(t, terr)
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never completed")
	}

	thread, err := mem.GetThreadByID(context.Background(), threadID)
	require.NoError(t, err)
	assert.Empty(t, thread.Title, "existing title is preserved on error")
}

func TestTitleNotRegeneratedForExistingThread(t *testing.T) {
	caller := &scriptedCaller{script: func(n int, req modelrelay.Request) (*modelrelay.Response, error) {
		return textResponse("answer"), nil
	}}
	mem := store.NewMemory()
	require.NoError(t, mem.SaveThread(context.Background(), &store.Thread{ID: "t1", Title: "Already titled"}))
	existing := messagelist.NewUserMessage("earlier")
	existing.ThreadID = "t1"
	require.NoError(t, mem.SaveMessages(context.Background(), []messagelist.Message{existing}))

	r := newTestRunner(t, caller, RunConfig{
		Store: mem,
		Title: &TitleConfig{
			OnComplete: func(threadID, title string, err error) {
				t.Error("title generation must not fire for an existing thread")
			},
		},
	})

	_, err := r.Generate(context.Background(), Request{ThreadID: "t1", Text: "more"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	thread, err := mem.GetThreadByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "Already titled", thread.Title)
}

func newTestRunnerWithTools(t *testing.T, caller ModelCaller, cfg RunConfig, tools []*Tool) *Runner {
	t.Helper()
	cfg.Client = caller
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	cfg.Logger = zerolog.Nop()
	r, err := NewRunner(&Agent{
		Name:         "test-agent",
		Instructions: "You are a concise assistant.",
		Model:        "test-model",
		Tools:        tools,
	}, cfg)
	require.NoError(t, err)
	return r
}
