package op

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowllm-ai/flowllm/cache"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
)

// rawResultKey stores a non-tool result inside a cache entry next to the
// tool outputs.
const rawResultKey = "__raw_result__"

// Call executes one blocking invocation of o against fc. kwargs are merged
// into the context under their argument names before execution.
func Call(ctx context.Context, o Op, fc *core.Context, kwargs map[string]any) (any, error) {
	return run(ctx, o, fc, kwargs)
}

// AsyncCall executes one cooperative invocation of o against fc. The
// control flow is the same as Call; the distinction matters to schedulers
// (Parallel dispatches async children as goroutine tasks and sync children
// onto the worker pool).
func AsyncCall(ctx context.Context, o Op, fc *core.Context, kwargs map[string]any) (any, error) {
	return run(ctx, o, fc, kwargs)
}

// run is the op lifecycle state machine: bind, cache probe, before-execute,
// execute with retries, default fallback, after-execute, cache store.
func run(ctx context.Context, o Op, fc *core.Context, kwargs map[string]any) (any, error) {
	if fc == nil {
		return nil, core.NewError(core.INVALID_ARGUMENT, "op %s: nil flow context", o.Name())
	}
	if ctx == nil {
		ctx = fc.Ctx()
	}
	b := o.base()
	fc.Update(kwargs)
	b.fc = fc
	b.inputDict = map[string]any{}
	b.outputDict = map[string]any{}
	b.rawResult = nil
	b.outputIsDefault = false
	b.fromCache = false

	ctx, span := otel.Tracer("flowllm").Start(ctx, o.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Bool("flowllm.async", o.AsyncMode())))
	defer span.End()

	tc := b.ToolCall()
	if tc != nil {
		if err := b.bindInputs(fc, tc); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	var err error
	if b.cfg.EnableCache {
		err = b.runCached(ctx, fc, tc, kwargs)
	} else {
		err = b.executeWithRetries(ctx, fc)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// After a cancellation nothing below runs; every error path above
	// already returned. Cache hits still perform after-execute so their
	// context writes are indistinguishable from a real execution.
	if tc != nil {
		b.writeOutputs(fc, tc)
	}
	return b.result(tc), nil
}

func (b *Base) runCached(ctx context.Context, fc *core.Context, tc *core.ToolCall, kwargs map[string]any) error {
	inputs := kwargs
	if tc != nil {
		// The fingerprint covers the declared schema inputs only, so
		// context entries injected by middleware do not split the cache.
		inputs = b.inputDict
	}
	key := cache.Fingerprint(b.ShortName(), inputs)
	store := cache.ForDir(b.cfg.CacheDir)

	entry, hit, err := store.GetOrBuild(ctx, key, b.cfg.CacheExpire, func(bctx context.Context) (map[string]any, bool, error) {
		if err := b.executeWithRetries(bctx, fc); err != nil {
			return nil, false, err
		}
		out := make(map[string]any, len(b.outputDict)+1)
		for k, v := range b.outputDict {
			out[k] = v
		}
		if b.rawResult != nil {
			out[rawResultKey] = b.rawResult
		}
		// Default-fallback outputs are never stored.
		return out, !b.outputIsDefault, nil
	})
	if err != nil {
		return err
	}
	if hit {
		b.fromCache = true
		b.outputDict = make(map[string]any, len(entry))
		b.rawResult = nil
		for k, v := range entry {
			if k == rawResultKey {
				b.rawResult = v
				continue
			}
			b.outputDict[k] = v
		}
		logger.FromContext(ctx).Debug("op served from cache", "op", b.name, "key", key)
	}
	return nil
}

func (b *Base) executeWithRetries(ctx context.Context, fc *core.Context) error {
	log := logger.FromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		// Clear partial outputs between attempts.
		clear(b.outputDict)
		b.rawResult = nil

		res, err := b.execute(ctx, fc)
		if err == nil {
			if res != nil {
				b.rawResult = res
			}
			b.promoteRawResult()
			return nil
		}
		if core.IsCancellation(err) {
			return err
		}
		if ctx.Err() != nil {
			return core.FromContextErr(ctx.Err())
		}
		lastErr = err
		if !core.IsTransient(err) {
			break
		}
		if attempt < b.cfg.MaxRetries {
			log.Warn("op attempt failed, retrying",
				"op", b.name, "attempt", attempt, "max_retries", b.cfg.MaxRetries, "error", err)
		}
	}

	if b.raiseOnFailure() {
		return lastErr
	}
	log.Warn("op failed all attempts, using default output", "op", b.name, "error", lastErr)
	clear(b.outputDict)
	b.rawResult = nil
	b.defaultExecute(fc)
	b.outputIsDefault = true
	return nil
}

func (b *Base) execute(ctx context.Context, fc *core.Context) (any, error) {
	if ae, ok := b.self.(AsyncExecutor); ok {
		return ae.AsyncExecute(ctx, fc)
	}
	if e, ok := b.self.(Executor); ok {
		return e.Execute(ctx, fc)
	}
	return nil, core.NewError(core.UNIMPLEMENTED, "op %s implements neither Execute nor AsyncExecute", b.name)
}

func (b *Base) defaultExecute(fc *core.Context) {
	if d, ok := b.self.(Defaulter); ok {
		d.DefaultExecute(fc)
		return
	}
	if tc := b.ToolCall(); tc != nil {
		for _, key := range tc.OutputKeys() {
			b.outputDict[key] = fmt.Sprintf("%s execution failed!", b.name)
		}
	}
}

// promoteRawResult moves a returned value into the single declared tool
// output when the op did not set it explicitly.
func (b *Base) promoteRawResult() {
	tc := b.ToolCall()
	if tc == nil || b.rawResult == nil || len(b.outputDict) > 0 {
		return
	}
	keys := tc.OutputKeys()
	if len(keys) == 1 {
		b.outputDict[keys[0]] = b.rawResult
		b.rawResult = nil
	}
}

// contextKey maps a schema key to its context key: rename via mapping,
// then disambiguate multi-instance ops with the tool index suffix.
func (b *Base) contextKey(key string, mapping map[string]string) string {
	if mapped, ok := mapping[key]; ok {
		key = mapped
	}
	if b.cfg.ToolIndex > 0 {
		key = fmt.Sprintf("%s_%d", key, b.cfg.ToolIndex)
	}
	return key
}

func (b *Base) bindInputs(fc *core.Context, tc *core.ToolCall) error {
	for _, key := range tc.InputKeys() {
		attrs := tc.InputSchema[key]
		ctxKey := b.contextKey(key, b.cfg.InputMapping)
		if v, ok := fc.Get(ctxKey); ok {
			b.inputDict[key] = v
			continue
		}
		if attrs.Default != nil {
			b.inputDict[key] = attrs.Default
			continue
		}
		if attrs.Required {
			return core.NewError(core.INVALID_ARGUMENT, "op %s: missing input %q", b.name, ctxKey)
		}
	}
	return nil
}

// writeOutputs publishes the tool outputs: into the context for downstream
// ops and into the response metadata for the caller.
func (b *Base) writeOutputs(fc *core.Context, tc *core.ToolCall) {
	for _, key := range tc.OutputKeys() {
		v, ok := b.outputDict[key]
		if !ok {
			continue
		}
		ctxKey := b.contextKey(key, b.cfg.OutputMapping)
		fc.Set(ctxKey, v)
		fc.SetMeta(ctxKey, v)
	}
	if !b.cfg.SaveAnswer {
		return
	}
	keys := tc.OutputKeys()
	if len(keys) == 1 {
		if v, ok := b.outputDict[keys[0]]; ok {
			fc.SetAnswer(fmt.Sprint(v))
		}
		return
	}
	// encoding/json sorts map keys, which keeps the serialized answer
	// stable across runs.
	if data, err := json.Marshal(b.outputDict); err == nil {
		fc.SetAnswer(string(data))
	}
}

func (b *Base) result(tc *core.ToolCall) any {
	if tc != nil {
		keys := tc.OutputKeys()
		if len(keys) == 1 {
			return b.outputDict[keys[0]]
		}
		out := make(map[string]any, len(b.outputDict))
		for k, v := range b.outputDict {
			out[k] = v
		}
		return out
	}
	return b.rawResult
}
