// Package op implements the op runtime: the lifecycle that executes one op
// invocation (binding, caching, retries, tool schema handling) and the
// combinators that compose ops into flows.
//
// A concrete op embeds Base, implements Execute or AsyncExecute, and
// registers a Constructor under its stable name. The constructor calls
// Init with itself so Base can rebuild fresh instances for Copy.
package op

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/embedding"
	"github.com/flowllm-ai/flowllm/llm"
	"github.com/flowllm-ai/flowllm/registry"
	"github.com/flowllm-ai/flowllm/schedule"
	"github.com/flowllm-ai/flowllm/vectorstore"
)

// Op is one unit of computation. Concrete ops additionally implement
// Executor (blocking) or AsyncExecutor (cooperative); implementing
// AsyncExecutor makes AsyncMode true.
type Op interface {
	Name() string
	ShortName() string
	AsyncMode() bool
	// Copy builds an independent instance with the same configuration and
	// deep-copied children. Composed ops are copied before concurrent
	// re-execution so no mutable state is shared across invocations.
	Copy() (Op, error)

	base() *Base
}

// Executor is the behavior contract of a blocking op.
type Executor interface {
	Execute(ctx context.Context, fc *core.Context) (any, error)
}

// AsyncExecutor is the behavior contract of a cooperative op.
type AsyncExecutor interface {
	AsyncExecute(ctx context.Context, fc *core.Context) (any, error)
}

// Defaulter lets an op supply fallback outputs when all retry attempts
// failed and raise_on_failure is off. Ops without it get the standard
// "{name} execution failed!" tool outputs.
type Defaulter interface {
	DefaultExecute(fc *core.Context)
}

// ToolDescriber marks a tool op: one that declares an input/output schema
// the runtime binds against the context before and after execution.
type ToolDescriber interface {
	BuildToolCall() *core.ToolCall
}

// Constructor builds a fresh op instance from its configuration.
type Constructor func(cfg Config) (Op, error)

// Config carries everything an op constructor needs. Zero values select
// the documented defaults.
type Config struct {
	Name           string
	MaxRetries     int   // < 1 means 1
	RaiseOnFailure *bool // nil means true
	Language       string
	PromptPath     string
	LLM            string // "" means "default"
	EmbeddingModel string
	VectorStore    string
	EnableCache    bool
	CacheExpire    time.Duration
	CacheDir       string
	ToolIndex      int
	SaveAnswer     bool
	InputMapping   map[string]string
	OutputMapping  map[string]string
	Params         map[string]any
}

// Register records ctor under name in the process registry. Flow
// expressions and config sections refer to ops by this name.
func Register(name string, ctor Constructor) {
	registry.MustRegister(registry.CategoryOp, name, ctor)
}

// New builds the op registered under name. The op's section in the service
// config is merged in first, then the explicit cfg fields override it.
func New(name string, cfg Config) (Op, error) {
	ctor, err := registry.ResolveAs[Constructor](registry.Global, registry.CategoryOp, name)
	if err != nil {
		return nil, core.NewError(core.NOT_FOUND, "op %q is not registered", name)
	}
	merged := mergeOpSection(config.Current().Ops[name], cfg)
	merged.Name = name
	return ctor(merged)
}

// mergeOpSection layers explicit construction arguments over the op's
// config-file section.
func mergeOpSection(section config.OpConfig, cfg Config) Config {
	out := cfg
	if out.MaxRetries == 0 {
		out.MaxRetries = section.MaxRetries
	}
	if out.RaiseOnFailure == nil {
		out.RaiseOnFailure = section.RaiseOnFailure
	}
	if out.Language == "" {
		out.Language = section.Language
	}
	if out.PromptPath == "" {
		out.PromptPath = section.PromptPath
	}
	if out.LLM == "" {
		out.LLM = section.LLM
	}
	if out.EmbeddingModel == "" {
		out.EmbeddingModel = section.EmbeddingModel
	}
	if out.VectorStore == "" {
		out.VectorStore = section.VectorStore
	}
	if !out.EnableCache {
		out.EnableCache = section.EnableCache
	}
	if out.CacheExpire == 0 && section.CacheExpire > 0 {
		out.CacheExpire = time.Duration(section.CacheExpire) * time.Second
	}
	if out.CacheDir == "" {
		out.CacheDir = section.CacheDir
	}
	if len(section.Params) > 0 {
		params := make(map[string]any, len(section.Params)+len(out.Params))
		for k, v := range section.Params {
			params[k] = v
		}
		for k, v := range out.Params {
			params[k] = v
		}
		out.Params = params
	}
	return out
}

// Base carries the shared op state and implements the Op surface except
// the behavior contract. Embed it and call Init from the constructor.
type Base struct {
	self Op
	ctor Constructor
	cfg  Config

	name      string
	asyncMode bool

	toolOnce sync.Once
	toolCall *core.ToolCall

	promptOnce sync.Once
	prompts    map[string]string
	promptErr  error

	llmOnce   sync.Once
	llmHandle llm.LLM
	llmErr    error

	embedOnce   sync.Once
	embedHandle embedding.Model
	embedErr    error

	storeOnce   sync.Once
	storeHandle vectorstore.Store
	storeErr    error

	childNames []string
	children   map[string]Op

	// Per-invocation state. An op instance serves one invocation at a
	// time: the dispatcher copies the flow root per request and Parallel
	// copies its children before concurrent execution.
	fc              *core.Context
	group           *schedule.TaskGroup
	inputDict       map[string]any
	outputDict      map[string]any
	rawResult       any
	outputIsDefault bool
	fromCache       bool
}

// Init wires the embedding op into Base. self is the concrete op, ctor the
// constructor that built it (reused by Copy).
func (b *Base) Init(self Op, ctor Constructor, cfg Config) error {
	if cfg.Name == "" {
		return core.NewError(core.INVALID_ARGUMENT, "op config has no name")
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	b.self = self
	b.ctor = ctor
	b.cfg = cfg
	b.name = cfg.Name
	_, b.asyncMode = self.(AsyncExecutor)
	b.children = map[string]Op{}
	b.outputDict = map[string]any{}
	return nil
}

func (b *Base) base() *Base { return b }

func (b *Base) Name() string { return b.name }

// ShortName strips the conventional "_op" suffix; it names the default
// output key and the cache fingerprint.
func (b *Base) ShortName() string {
	return strings.TrimSuffix(b.name, "_op")
}

func (b *Base) AsyncMode() bool { return b.asyncMode }

// setAsyncMode is used by combinators, whose mode follows their children
// rather than their own method set.
func (b *Base) setAsyncMode(async bool) { b.asyncMode = async }

// Copy rebuilds the op from its constructor and configuration, then
// deep-copies the children.
func (b *Base) Copy() (Op, error) {
	clone, err := b.ctor(b.cfg)
	if err != nil {
		return nil, core.Errorf(core.INTERNAL, err, "op %s: copy failed", b.name)
	}
	cb := clone.base()
	cb.setAsyncMode(b.asyncMode)
	for _, name := range b.childNames {
		childCopy, err := b.children[name].Copy()
		if err != nil {
			return nil, err
		}
		if err := cb.AddChild(name, childCopy); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// Cfg returns the op's configuration.
func (b *Base) Cfg() Config { return b.cfg }

// Param reads a construction parameter.
func (b *Base) Param(key string) (any, bool) {
	v, ok := b.cfg.Params[key]
	return v, ok
}

// ParamString reads a string construction parameter with a default.
func (b *Base) ParamString(key, def string) string {
	if v, ok := b.cfg.Params[key].(string); ok {
		return v
	}
	return def
}

func (b *Base) raiseOnFailure() bool {
	return b.cfg.RaiseOnFailure == nil || *b.cfg.RaiseOnFailure
}

// Context returns the invocation context the op is currently bound to.
func (b *Base) Context() *core.Context { return b.fc }

// AddChild attaches a named child op for the parent's execute to invoke.
func (b *Base) AddChild(name string, child Op) error {
	if child == nil {
		return core.NewError(core.INVALID_ARGUMENT, "op %s: nil child %q", b.name, name)
	}
	if _, dup := b.children[name]; dup {
		return core.NewError(core.ALREADY_EXISTS, "op %s: child %q already attached", b.name, name)
	}
	b.children[name] = child
	b.childNames = append(b.childNames, name)
	return nil
}

// Child returns the named child.
func (b *Base) Child(name string) (Op, bool) {
	c, ok := b.children[name]
	return c, ok
}

// Children returns the children in attachment order.
func (b *Base) Children() []Op {
	out := make([]Op, 0, len(b.childNames))
	for _, name := range b.childNames {
		out = append(out, b.children[name])
	}
	return out
}

// ChildNames returns the child names in attachment order.
func (b *Base) ChildNames() []string {
	return append([]string(nil), b.childNames...)
}

// ToolCall returns the op's schema, built once, with defaults filled.
// Non-tool ops return nil.
func (b *Base) ToolCall() *core.ToolCall {
	td, ok := b.self.(ToolDescriber)
	if !ok {
		return nil
	}
	b.toolOnce.Do(func() {
		b.toolCall = td.BuildToolCall()
		if b.toolCall == nil {
			b.toolCall = &core.ToolCall{}
		}
		b.toolCall.EnsureDefaults(b.ShortName(), b.cfg.ToolIndex)
	})
	return b.toolCall
}

// Input reads a bound tool input.
func (b *Base) Input(key string) (any, bool) {
	v, ok := b.inputDict[key]
	return v, ok
}

// InputString reads a bound tool input as a string.
func (b *Base) InputString(key string) string {
	if s, ok := b.inputDict[key].(string); ok {
		return s
	}
	return ""
}

// SetResult records the op's result. Tool ops with a single declared
// output store it under that key; everything else keeps it as the raw
// return value.
func (b *Base) SetResult(v any) {
	if tc := b.ToolCall(); tc != nil {
		keys := tc.OutputKeys()
		if len(keys) == 1 {
			b.outputDict[keys[0]] = v
			return
		}
	}
	b.rawResult = v
}

// SetNamedResult records one named tool output.
func (b *Base) SetNamedResult(key string, v any) {
	b.outputDict[key] = v
}

// OutputIsDefault reports whether the last invocation fell back to the
// default output after exhausting retries.
func (b *Base) OutputIsDefault() bool { return b.outputIsDefault }

// FromCache reports whether the last invocation was served from cache.
func (b *Base) FromCache() bool { return b.fromCache }

// SubmitAsync registers a cooperative task in this op's task group.
func (b *Base) SubmitAsync(ctx context.Context, fn func(context.Context) (any, error)) {
	if b.group == nil {
		b.group = schedule.NewTaskGroup()
	}
	b.group.Submit(ctx, fn)
}

// JoinAsync waits for this op's submitted tasks. See schedule.TaskGroup.
func (b *Base) JoinAsync(ctx context.Context, timeout time.Duration, returnErrors bool) ([]any, error) {
	if b.group == nil {
		return nil, nil
	}
	return b.group.Join(ctx, timeout, returnErrors)
}

// SubmitBlocking runs a synchronous function on the shared worker pool and
// waits for it, the cross-tier hand-off for cooperative ops.
func (b *Base) SubmitBlocking(ctx context.Context, fn func() (any, error)) (any, error) {
	return schedule.Default().Run(ctx, fn)
}

// LLM resolves the op's configured model on first use and caches the
// handle for the op's lifetime.
func (b *Base) LLM() (llm.LLM, error) {
	b.llmOnce.Do(func() {
		b.llmHandle, b.llmErr = llm.Resolve(b.cfg.LLM)
	})
	return b.llmHandle, b.llmErr
}

// EmbeddingModel resolves the op's configured embedding model on first use.
func (b *Base) EmbeddingModel() (embedding.Model, error) {
	b.embedOnce.Do(func() {
		b.embedHandle, b.embedErr = embedding.Resolve(b.cfg.EmbeddingModel)
	})
	return b.embedHandle, b.embedErr
}

// VectorStore resolves the op's configured vector store on first use.
func (b *Base) VectorStore() (vectorstore.Store, error) {
	b.storeOnce.Do(func() {
		b.storeHandle, b.storeErr = vectorstore.Resolve(b.cfg.VectorStore)
	})
	return b.storeHandle, b.storeErr
}

// BoolPtr is a convenience for Config.RaiseOnFailure.
func BoolPtr(v bool) *bool { return &v }
