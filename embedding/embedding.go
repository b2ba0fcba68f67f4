// Package embedding defines the embedding-model capability and its
// configured backends.
package embedding

import (
	"context"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/registry"
)

// Model vectorizes a batch of texts. The result has one vector per input,
// in input order.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Constructor builds a backend client from a configured model section.
type Constructor func(cfg config.EmbeddingConfig) (Model, error)

// Register makes a backend available under the given name.
func Register(backend string, ctor Constructor) {
	registry.MustRegister(registry.CategoryEmbedding, backend, ctor)
}

// Resolve builds the embedding model configured under name in the current
// service config.
func Resolve(name string) (Model, error) {
	if name == "" {
		name = registry.DefaultName
	}
	cfg, ok := config.Current().EmbeddingModels[name]
	if !ok {
		return nil, core.NewError(core.NOT_FOUND, "embedding model %q is not configured", name)
	}
	ctor, err := registry.ResolveAs[Constructor](registry.Global, registry.CategoryEmbedding, cfg.Backend)
	if err != nil {
		return nil, err
	}
	return ctor(cfg)
}
