// Package modelrelay provides a provider-agnostic LLM client that wraps the
// gollm library (github.com/teilomillet/gollm) behind a uniform request,
// response, and streaming surface.
//
// # Architecture
//
//   - Adapter: the per-provider boundary. GollmAdapter is the production
//     implementation; tests inject fakes.
//   - Client: provider routing (explicit provider, configured default, or
//     catalog inference from the model name) plus middleware chains for both
//     Complete and Stream.
//   - Typed errors: every provider failure maps to a concrete error type
//     (AuthenticationError, RateLimitError, ServerError, ...) carrying the
//     HTTP status, provider code, and retryability.
//   - Retry: RetryPolicy implements exponential backoff with jitter and
//     honors provider Retry-After hints.
//
// # Quick Start
//
//	adapter, _ := modelrelay.NewGollmAdapter("anthropic",
//	    modelrelay.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
//	client := modelrelay.NewClient(modelrelay.WithAdapter("anthropic", adapter))
//
//	resp, err := client.Complete(ctx, modelrelay.Request{
//	    Model:    "claude-opus-4-6",
//	    Messages: []modelrelay.Message{modelrelay.UserMessage("hello")},
//	})
//
// Streaming delivers typed events over a channel; Accumulator folds an event
// stream back into a complete Response for callers that need both.
package modelrelay
