// Package registry implements the process-wide indirection from stable
// string names to op, LLM, embedding-model, vector-store, token-counter and
// service constructors. It is populated by explicit Register calls from
// init functions and frozen once service startup completes.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/flowllm-ai/flowllm/core"
)

// Category partitions the registry namespace.
type Category string

const (
	CategoryOp           Category = "op"
	CategoryLLM          Category = "llm"
	CategoryEmbedding    Category = "embedding_model"
	CategoryVectorStore  Category = "vector_store"
	CategoryTokenCounter Category = "token_counter"
	CategoryService      Category = "service"
)

// DefaultName is the entry ResolveDefault looks up.
const DefaultName = "default"

// Registry maps (category, name) to a constructor value. Lookups are
// case-sensitive. After Freeze, registration fails.
type Registry struct {
	mu      sync.RWMutex
	frozen  atomic.Bool
	entries map[Category]map[string]any
}

func New() *Registry {
	return &Registry{entries: map[Category]map[string]any{}}
}

// Global is the process-wide registry used by the serving path.
var Global = New()

// Register records ctor under (category, name). Registering a duplicate
// name or registering after Freeze is an error.
func (r *Registry) Register(category Category, name string, ctor any) error {
	if name == "" {
		return core.NewError(core.INVALID_ARGUMENT, "registry: empty name for category %q", category)
	}
	if r.frozen.Load() {
		return core.NewError(core.FAILED_PRECONDITION, "registry: frozen, cannot register %s/%s", category, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.entries[category]
	if !ok {
		byName = map[string]any{}
		r.entries[category] = byName
	}
	if _, dup := byName[name]; dup {
		return core.NewError(core.ALREADY_EXISTS, "registry: %s/%s is already registered", category, name)
	}
	byName[name] = ctor
	slog.Debug("registry: registered", "category", category, "name", name)
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(category Category, name string, ctor any) {
	if err := r.Register(category, name, ctor); err != nil {
		panic(err)
	}
}

// Resolve returns the constructor registered under (category, name).
func (r *Registry) Resolve(category Category, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byName, ok := r.entries[category]; ok {
		if ctor, ok := byName[name]; ok {
			return ctor, nil
		}
	}
	return nil, core.NewError(core.NOT_FOUND, "registry: %s %q is not registered", category, name)
}

// ResolveDefault returns the entry named "default" for the category.
func (r *Registry) ResolveDefault(category Category) (any, error) {
	return r.Resolve(category, DefaultName)
}

// Has reports whether (category, name) is registered.
func (r *Registry) Has(category Category, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[category][name]
	return ok
}

// Names returns the sorted names registered under a category.
func (r *Registry) Names(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries[category]))
	for name := range r.entries[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Freeze makes the registry read-only. Serving code calls this once the
// service config is final; a new config requires a full restart.
func (r *Registry) Freeze() { r.frozen.Store(true) }

// Frozen reports whether the registry is read-only.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// ResolveAs resolves and type-asserts a constructor in one step.
func ResolveAs[T any](r *Registry, category Category, name string) (T, error) {
	var zero T
	v, err := r.Resolve(category, name)
	if err != nil {
		return zero, err
	}
	ctor, ok := v.(T)
	if !ok {
		return zero, core.NewError(core.INTERNAL,
			"registry: %s/%s has type %T, want %s", category, name, v, fmt.Sprintf("%T", zero))
	}
	return ctor, nil
}

// Register records ctor in the Global registry.
func Register(category Category, name string, ctor any) error {
	return Global.Register(category, name, ctor)
}

// MustRegister records ctor in the Global registry, panicking on error.
func MustRegister(category Category, name string, ctor any) {
	Global.MustRegister(category, name, ctor)
}

// Resolve looks up a constructor in the Global registry.
func Resolve(category Category, name string) (any, error) {
	return Global.Resolve(category, name)
}
