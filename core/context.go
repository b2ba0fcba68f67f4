package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowllm-ai/flowllm/core/logger"
)

// Context is the per-invocation state bag shared by every op in one flow
// invocation, including parallel children. Cancellation and deadlines ride
// on the embedded context.Context; the data map is guarded so that writes
// to disjoint keys under Parallel are safe. Writes to the same key under
// Parallel are undefined and must be avoided by design.
type Context struct {
	FlowID   string
	Request  map[string]any
	Response *Response

	ctx  context.Context
	pipe *StreamPipe

	mu   sync.RWMutex
	data map[string]any
}

// ContextOption configures a new Context.
type ContextOption func(*Context)

// WithRequest records the request snapshot and seeds the data map with it.
func WithRequest(req map[string]any) ContextOption {
	return func(c *Context) {
		c.Request = req
		for k, v := range req {
			c.data[k] = v
		}
	}
}

// WithPipe attaches a streaming outbox.
func WithPipe(p *StreamPipe) ContextOption {
	return func(c *Context) { c.pipe = p }
}

// WithFlowID overrides the generated invocation id.
func WithFlowID(id string) ContextOption {
	return func(c *Context) { c.FlowID = id }
}

// NewContext creates a fresh invocation context. ctx carries the deadline
// and cancellation token for the whole invocation.
func NewContext(ctx context.Context, opts ...ContextOption) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{
		FlowID:   uuid.NewString(),
		Response: NewResponse(),
		ctx:      ctx,
		data:     map[string]any{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ctx returns the cancellation/deadline context of this invocation.
func (c *Context) Ctx() context.Context { return c.ctx }

// Err reports the invocation's cancellation state.
func (c *Context) Err() error { return c.ctx.Err() }

// Deadline reports the invocation deadline, if any.
func (c *Context) Deadline() (time.Time, bool) { return c.ctx.Deadline() }

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// GetString returns the value under key as a string, or "" when absent or
// of another type.
func (c *Context) GetString(key string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt returns the value under key as an int, tolerating the float64
// that JSON decoding produces.
func (c *Context) GetInt(key string) int {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// GetFloat returns the value under key as a float64.
func (c *Context) GetFloat(key string) float64 {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// GetBool returns the value under key as a bool.
func (c *Context) GetBool(key string) bool {
	if v, ok := c.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Set stores a value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[key]
	return ok
}

// Delete removes key.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Update merges kwargs into the data map.
func (c *Context) Update(kwargs map[string]any) {
	if len(kwargs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range kwargs {
		c.data[k] = v
	}
}

// Snapshot returns a shallow copy of the data map.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Streaming reports whether this invocation carries an outbox.
func (c *Context) Streaming() bool { return c.pipe != nil }

// Pipe returns the streaming outbox, or nil for non-stream invocations.
func (c *Context) Pipe() *StreamPipe { return c.pipe }

// Emit sends a chunk to the outbox, blocking when it is full. On
// non-stream invocations Emit is a no-op so ops can emit unconditionally.
func (c *Context) Emit(chunk StreamChunk) error {
	if c.pipe == nil {
		logger.FromContext(c.ctx).Debug("emit on non-stream invocation dropped",
			"flow_id", c.FlowID, "kind", chunk.Kind)
		return nil
	}
	return c.pipe.Send(c.ctx, chunk)
}

// SetAnswer records the final textual answer.
func (c *Context) SetAnswer(answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Response.Answer = answer
}

// AppendMessage appends a chat message to the response transcript.
func (c *Context) AppendMessage(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Response.Messages = append(c.Response.Messages, m)
}

// SetMeta writes an extensible response field.
func (c *Context) SetMeta(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Response.Metadata == nil {
		c.Response.Metadata = map[string]any{}
	}
	c.Response.Metadata[key] = value
}
