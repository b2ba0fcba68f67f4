// Package flow turns configured flow expressions into executable flows and
// dispatches invocations onto them.
package flow

import (
	"fmt"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/parser"
)

// Flow is a named, executable op tree with its service-facing schema. The
// Root tree is a template: every invocation runs on a fresh deep copy so
// concurrent requests never share op state.
type Flow struct {
	Name        string
	Description string
	Root        op.Op
	Stream      bool
	InputSchema map[string]core.ParamAttrs
}

// New builds a flow from its configuration by parsing the flow expression
// against the op registry.
func New(name string, cfg config.FlowConfig) (*Flow, error) {
	root, err := parser.Build(cfg.FlowContent)
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", name, err)
	}
	desc := cfg.Description
	if desc == "" {
		desc = fmt.Sprintf("Flow %s.", name)
	}
	return &Flow{
		Name:        name,
		Description: desc,
		Root:        root,
		Stream:      cfg.Stream,
		InputSchema: cfg.InputSchema,
	}, nil
}

// Expr serializes the flow's op tree back into expression form.
func (f *Flow) Expr() string {
	return parser.Format(f.Root)
}

// FromConfig builds the flow table for every configured flow.
func FromConfig(cfg *config.ServiceConfig) (map[string]*Flow, error) {
	flows := make(map[string]*Flow, len(cfg.Flows))
	for name, fc := range cfg.Flows {
		f, err := New(name, fc)
		if err != nil {
			return nil, err
		}
		flows[name] = f
	}
	return flows, nil
}
