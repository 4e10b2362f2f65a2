package modelrelay

import (
	"context"
	"fmt"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next
// function that invokes the downstream handler.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// StreamMiddleware wraps a streaming provider call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client routes requests to registered provider adapters and applies
// middleware. Clients are constructed explicitly and passed by reference;
// there is no ambient default.
type Client struct {
	adapters        map[string]Adapter
	defaultProvider string
	middleware      []Middleware
	streamMW        []StreamMiddleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAdapter registers a provider adapter.
func WithAdapter(name string, adapter Adapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithStreamMiddleware adds stream middleware to the client.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// NewClient creates a Client with the given options. If no default provider
// is named and exactly one adapter is registered, that adapter is the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: make(map[string]Adapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.adapters) == 1 {
		for name := range c.adapters {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterAdapter adds a provider adapter after construction.
func (c *Client) RegisterAdapter(name string, adapter Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapters[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

func (c *Client) resolveAdapter(req Request) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := Lookup(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigError{RelayError: RelayError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigError{RelayError: RelayError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through middleware to the resolved adapter.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveAdapter(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}

	// Reverse order so the first registered middleware runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Stream sends a streaming request through middleware to the resolved adapter.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveAdapter(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return adapter.Stream(ctx, r)
	}

	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}

// Close releases resources held by registered adapters.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var firstErr error
	for _, adapter := range c.adapters {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
