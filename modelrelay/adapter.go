package modelrelay

import "context"

// Adapter is the interface every provider backend implements.
type Adapter interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events.
	// The channel is closed when the stream ends.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
