package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/op"
)

// Options tunes a single flow invocation.
type Options struct {
	// Strict rejects arguments outside the flow's input schema. MCP
	// invocations are strict, HTTP invocations pass extras through.
	Strict bool
	// Timeout overrides the configured per-flow timeout. Zero means the
	// configured default, negative means no deadline.
	Timeout time.Duration
	// Pipe, when set, makes the invocation a streaming one.
	Pipe *core.StreamPipe
	// FlowID overrides the generated invocation id.
	FlowID string
}

// Dispatcher validates, schedules and runs flow invocations against a
// fixed flow table.
type Dispatcher struct {
	flows   map[string]*Flow
	timeout time.Duration
}

// NewDispatcher creates a dispatcher over the given flow table. The
// default invocation timeout comes from cfg.
func NewDispatcher(flows map[string]*Flow, cfg *config.ServiceConfig) *Dispatcher {
	timeout := time.Duration(cfg.FlowTimeoutSeconds) * time.Second
	return &Dispatcher{flows: flows, timeout: timeout}
}

// Flow looks up a flow by name.
func (d *Dispatcher) Flow(name string) (*Flow, bool) {
	f, ok := d.flows[name]
	return f, ok
}

// Names returns the flow names in no particular order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.flows))
	for name := range d.flows {
		names = append(names, name)
	}
	return names
}

// Execute runs one flow invocation to completion and returns its response.
// The flow's op tree is deep-copied per invocation; when opts.Pipe is set
// it is closed for sending before Execute returns, error or not.
func (d *Dispatcher) Execute(ctx context.Context, name string, kwargs map[string]any, opts Options) (*core.Response, error) {
	f, ok := d.flows[name]
	if !ok {
		return nil, core.NewError(core.NOT_FOUND, "flow %q is not registered", name)
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	if err := d.validate(f, kwargs, opts.Strict); err != nil {
		if opts.Pipe != nil {
			opts.Pipe.CloseSend()
		}
		return nil, err
	}
	applyDefaults(f, kwargs)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = d.timeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctxOpts := []core.ContextOption{core.WithRequest(kwargs)}
	if opts.Pipe != nil {
		ctxOpts = append(ctxOpts, core.WithPipe(opts.Pipe))
	}
	if opts.FlowID != "" {
		ctxOpts = append(ctxOpts, core.WithFlowID(opts.FlowID))
	}
	fc := core.NewContext(runCtx, ctxOpts...)
	if opts.Pipe != nil {
		defer opts.Pipe.CloseSend()
	}

	root, err := f.Root.Copy()
	if err != nil {
		return nil, core.Errorf(core.INTERNAL, err, "flow %q: copy op tree", name)
	}

	log := logger.FromContext(ctx)
	log.Info("flow started", "flow", name, "flow_id", fc.FlowID, "stream", opts.Pipe != nil)
	start := time.Now()

	if root.AsyncMode() {
		_, err = op.AsyncCall(runCtx, root, fc, nil)
	} else {
		_, err = op.Call(runCtx, root, fc, nil)
	}
	if err != nil {
		if core.IsCancellation(err) && runCtx.Err() != nil && ctx.Err() == nil {
			err = core.Errorf(core.DEADLINE_EXCEEDED, err, "flow %q timed out after %s", name, timeout)
		}
		log.Warn("flow failed", "flow", name, "flow_id", fc.FlowID, "elapsed", time.Since(start), "err", err)
		return nil, err
	}
	log.Info("flow finished", "flow", name, "flow_id", fc.FlowID, "elapsed", time.Since(start))
	return fc.Response, nil
}

// validate checks kwargs against the flow's declared input schema.
func (d *Dispatcher) validate(f *Flow, kwargs map[string]any, strict bool) error {
	if len(f.InputSchema) == 0 && !strict {
		return nil
	}
	schema := core.JSONSchema(f.InputSchema, strict)
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(kwargs))
	if err != nil {
		return core.Errorf(core.INTERNAL, err, "flow %q: validate input", f.Name)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		details = append(details, re.String())
	}
	return core.NewError(core.INVALID_ARGUMENT, "flow %q: invalid input: %s", f.Name, strings.Join(details, "; "))
}

// applyDefaults fills missing optional arguments from the schema defaults
// before the request snapshot is taken.
func applyDefaults(f *Flow, kwargs map[string]any) {
	for name, attrs := range f.InputSchema {
		if attrs.Default == nil {
			continue
		}
		if _, ok := kwargs[name]; !ok {
			kwargs[name] = attrs.Default
		}
	}
}

// DescribeJSON renders the flow table as a JSON document for diagnostics.
func (d *Dispatcher) DescribeJSON() ([]byte, error) {
	type entry struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Stream      bool           `json:"stream"`
		Expr        string         `json:"expr"`
		InputSchema map[string]any `json:"input_schema"`
	}
	entries := make(map[string]entry, len(d.flows))
	for name, f := range d.flows {
		entries[name] = entry{
			Name:        name,
			Description: f.Description,
			Stream:      f.Stream,
			Expr:        f.Expr(),
			InputSchema: core.JSONSchema(f.InputSchema, false),
		}
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("describe flows: %w", err)
	}
	return out, nil
}
