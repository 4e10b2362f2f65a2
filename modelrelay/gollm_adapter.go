package modelrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM instance and implements Adapter, translating
// between the relay wire types and gollm's prompt API.
type GollmAdapter struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmAdapter.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions forwards extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmAdapter creates an adapter for the given provider. An empty apiKey
// lets gollm read it from the provider's environment variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmOption) (*GollmAdapter, error) {
	cfg := &gollmConfig{
		apiKey:      apiKey,
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if models := List(provider); len(models) > 0 {
			model = models[0].ID
		} else {
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gollm LLM for provider %s: %w", provider, err)
	}

	return &GollmAdapter{provider: provider, llm: llm, model: model}, nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM instance.
func NewGollmAdapterFromLLM(provider string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{provider: provider, llm: llm}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	a.applyRequestOptions(req)

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request. Providers without native streaming fall
// back to a blocking generation emitted as a single delta.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	a.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !a.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: EventStart}

			text, err := a.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: EventError, Err: a.translateError(err)}
				return
			}

			ch <- StreamEvent{Type: EventTextDelta, Delta: text}

			resp := a.buildResponse(req, text)
			ch <- StreamEvent{Type: EventFinish, FinishReason: resp.FinishReason, Usage: &resp.Usage, Response: resp}
		}()
		return ch, nil
	}

	stream, err := a.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: EventStart}

		var fullText strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: EventError, Err: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}

			ch <- StreamEvent{Type: EventTextDelta, Delta: token.Text}
			fullText.WriteString(token.Text)
		}

		resp := a.buildResponse(req, fullText.String())
		ch <- StreamEvent{Type: EventFinish, FinishReason: resp.FinishReason, Usage: &resp.Usage, Response: resp}
	}()

	return ch, nil
}

// translateRequest converts a relay Request into a gollm Prompt. gollm takes
// a single flattened prompt, so prior turns are folded in with role markers.
func (a *GollmAdapter) translateRequest(req Request) (*gollm.Prompt, error) {
	var systemPrompt string
	var turns []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Text() + "\n"
		case RoleUser:
			turns = append(turns, msg.Text())
		case RoleAssistant:
			if text := msg.Text(); text != "" {
				turns = append(turns, "[Assistant]: "+text)
			}
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Kind != PartToolResult || part.ToolResult == nil {
					continue
				}
				var content string
				_ = json.Unmarshal(part.ToolResult.Content, &content)
				if content == "" {
					content = string(part.ToolResult.Content)
				}
				prefix := "[Tool Result]"
				if part.ToolResult.IsError {
					prefix = "[Tool Error]"
				}
				turns = append(turns, prefix+": "+content)
			}
		}
	}

	promptText := strings.Join(turns, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}

	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...), nil
}

func (a *GollmAdapter) applyRequestOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.TopP != nil {
		a.llm.SetOption("top_p", *req.TopP)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a relay Response from generated text, splitting
// out any tool-call JSON the model embedded in the text.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var parts []Part
	toolCalls := parseToolCalls(text)
	for _, tc := range toolCalls {
		tc := tc
		parts = append(parts, Part{Kind: PartToolCall, ToolCall: &tc})
	}

	cleaned := stripToolCallJSON(text, toolCalls)
	if cleaned != "" {
		parts = append([]Part{TextPart(cleaned)}, parts...)
	}
	if len(parts) == 0 {
		parts = []Part{TextPart(text)}
	}

	finish := FinishStop
	if len(toolCalls) > 0 {
		finish = FinishToolCalls
	}

	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Parts: parts},
		FinishReason: finish,
		Usage: Usage{
			// gollm does not expose provider usage; estimate from text length.
			InputTokens:  estimateTokens(req),
			OutputTokens: len(text) / 4,
			TotalTokens:  estimateTokens(req) + len(text)/4,
		},
	}
}

// parseToolCalls extracts tool calls a model embedded as JSON in its text.
func parseToolCalls(text string) []ToolCallData {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	var calls []ToolCallData
	for _, rc := range rawCalls {
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func stripToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError converts a gollm error into the relay error hierarchy.
// gollm surfaces provider failures as formatted strings, so classification
// is by message content.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	pe := func(status int, retryable bool) ProviderError {
		return ProviderError{
			RelayError: RelayError{Message: msg, Cause: err},
			Provider:   a.provider,
			StatusCode: status,
			Retryable:  retryable,
		}
	}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &AuthenticationError{ProviderError: pe(401, false)}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return &AccessDeniedError{ProviderError: pe(403, false)}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return &NotFoundError{ProviderError: pe(404, false)}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &RateLimitError{ProviderError: pe(429, true)}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{ProviderError: pe(413, false)}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: pe(500, true)}
	case strings.Contains(lower, "timeout"):
		return &TimeoutError{RelayError: RelayError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: pe(0, false)}
	default:
		generic := pe(0, true)
		return &generic
	}
}

func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			if part.Kind == PartText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
