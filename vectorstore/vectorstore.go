// Package vectorstore defines the vector-store capability: insert text
// nodes, search by semantic similarity, delete by id. A store owns an
// embedding model (named in its config section) and vectorizes text itself.
package vectorstore

import (
	"context"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/embedding"
	"github.com/flowllm-ai/flowllm/registry"
)

// Node is one stored document fragment.
type Node struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
}

// ScoredNode is a search hit with its similarity score, higher is closer.
type ScoredNode struct {
	Node
	Score float32 `json:"score"`
}

// Store is the capability ops consume.
type Store interface {
	Insert(ctx context.Context, nodes []Node) error
	Search(ctx context.Context, query string, topK int) ([]ScoredNode, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}

// Constructor builds a store backend from its config section and the
// embedding model that section names.
type Constructor func(cfg config.VectorStoreConfig, model embedding.Model) (Store, error)

// Register makes a backend available under the given name.
func Register(backend string, ctor Constructor) {
	registry.MustRegister(registry.CategoryVectorStore, backend, ctor)
}

// Resolve builds the vector store configured under name, resolving its
// embedding model first.
func Resolve(name string) (Store, error) {
	if name == "" {
		name = registry.DefaultName
	}
	cfg, ok := config.Current().VectorStores[name]
	if !ok {
		return nil, core.NewError(core.NOT_FOUND, "vector store %q is not configured", name)
	}
	model, err := embedding.Resolve(cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	ctor, err := registry.ResolveAs[Constructor](registry.Global, registry.CategoryVectorStore, cfg.Backend)
	if err != nil {
		return nil, err
	}
	return ctor(cfg, model)
}
