// Package service exposes the flow table over the serving backends: an
// HTTP/SSE API, an MCP server and a one-shot command runner. Backends are
// registered by name and selected by configuration.
package service

import (
	"context"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/flow"
	"github.com/flowllm-ai/flowllm/registry"
)

// Service runs one serving backend until ctx is cancelled or a fatal
// error occurs.
type Service interface {
	Run(ctx context.Context) error
}

// Constructor builds a backend from the frozen config and the dispatcher.
type Constructor func(cfg *config.ServiceConfig, d *flow.Dispatcher) (Service, error)

// Register records a backend constructor under its name.
func Register(backend string, ctor Constructor) {
	registry.MustRegister(registry.CategoryService, backend, ctor)
}

// New resolves and constructs the backend named in the config.
func New(cfg *config.ServiceConfig, d *flow.Dispatcher) (Service, error) {
	ctor, err := registry.ResolveAs[Constructor](registry.Global, registry.CategoryService, cfg.Backend)
	if err != nil {
		return nil, err
	}
	return ctor(cfg, d)
}
