// Package llm defines the model capability consumed by ops and the backend
// registry that binds configured model names to provider clients. A backend
// is a constructor registered under the "llm" category; a configured model
// is a named LLMConfig section that selects a backend and a model.
package llm

import (
	"context"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/registry"
)

// Chunk is one streamed fragment of a model response.
type Chunk struct {
	Text     string
	Thinking bool
}

// Callback receives streamed chunks. Returning an error aborts the
// generation; the provider surfaces the error from Generate.
type Callback func(ctx context.Context, chunk Chunk) error

// Request is one generation call.
type Request struct {
	Messages []core.Message
	// Params are provider-specific generation knobs (temperature,
	// max_tokens, top_p). Unknown keys are ignored by providers.
	Params map[string]any
}

// LLM generates one assistant message. When cb is non-nil the provider
// streams chunks through it before returning the complete message.
type LLM interface {
	Generate(ctx context.Context, req *Request, cb Callback) (*core.Message, error)
}

// Constructor builds a backend client from a configured model section.
type Constructor func(cfg config.LLMConfig) (LLM, error)

// Register makes a backend available under the given name.
func Register(backend string, ctor Constructor) {
	registry.MustRegister(registry.CategoryLLM, backend, ctor)
}

// Resolve builds the model configured under name in the current service
// config. Ops cache the returned handle for their lifetime.
func Resolve(name string) (LLM, error) {
	if name == "" {
		name = registry.DefaultName
	}
	cfg, ok := config.Current().LLMs[name]
	if !ok {
		return nil, core.NewError(core.NOT_FOUND, "llm %q is not configured", name)
	}
	ctor, err := registry.ResolveAs[Constructor](registry.Global, registry.CategoryLLM, cfg.Backend)
	if err != nil {
		return nil, err
	}
	return ctor(cfg)
}

// SystemAndRest splits messages into the leading system prompt (joined if
// repeated) and the remaining conversation, the shape providers with a
// separate system slot need.
func SystemAndRest(messages []core.Message) (string, []core.Message) {
	var system string
	rest := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

// ParamString reads a string generation knob with a default.
func ParamString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

// ParamInt reads an integer generation knob with a default. YAML and JSON
// decoders disagree on numeric types, so both int and float64 are accepted.
func ParamInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// ParamFloat reads a float generation knob with a default.
func ParamFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
