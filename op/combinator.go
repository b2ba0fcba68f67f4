package op

import (
	"context"
	"fmt"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/schedule"
)

const (
	sequentialName = "sequential_op"
	parallelName   = "parallel_op"
)

// SequentialOp executes its children in declared order over the shared
// context, failing fast, and returns the last child's output.
type SequentialOp struct {
	Base
}

func NewSequentialOp(cfg Config) (Op, error) {
	if cfg.Name == "" {
		cfg.Name = sequentialName
	}
	o := &SequentialOp{}
	if err := o.Init(o, NewSequentialOp, cfg); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *SequentialOp) Execute(ctx context.Context, fc *core.Context) (any, error) {
	children := o.Children()
	if len(children) == 0 {
		return nil, core.NewError(core.FAILED_PRECONDITION, "sequential op has no children")
	}
	var out any
	var err error
	for _, child := range children {
		out, err = Call(ctx, child, fc, nil)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ParallelOp executes deep copies of its children concurrently over the
// shared context and aggregates their results in declared order. A
// sibling's failure cancels the others; with raise_on_failure off the
// failed positions carry the children's default outputs instead.
type ParallelOp struct {
	Base
}

func NewParallelOp(cfg Config) (Op, error) {
	if cfg.Name == "" {
		cfg.Name = parallelName
	}
	o := &ParallelOp{}
	if err := o.Init(o, NewParallelOp, cfg); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *ParallelOp) Execute(ctx context.Context, fc *core.Context) (any, error) {
	children := o.Children()
	if len(children) == 0 {
		return nil, core.NewError(core.FAILED_PRECONDITION, "parallel op has no children")
	}

	// Children are copied before concurrent execution so no instance
	// state is shared between siblings or across invocations.
	copies := make([]Op, len(children))
	for i, child := range children {
		cp, err := child.Copy()
		if err != nil {
			return nil, err
		}
		copies[i] = cp
	}

	if o.AsyncMode() {
		return o.executeAsync(ctx, fc, copies)
	}
	return o.executeBlocking(ctx, fc, copies)
}

func (o *ParallelOp) executeAsync(ctx context.Context, fc *core.Context, copies []Op) (any, error) {
	group := schedule.NewTaskGroup()
	for _, cp := range copies {
		cp := cp
		group.Submit(ctx, func(taskCtx context.Context) (any, error) {
			return AsyncCall(taskCtx, cp, fc, nil)
		})
	}
	collect := !o.raiseOnFailure()
	results, err := group.Join(ctx, schedule.NoTimeout, collect)
	if err != nil {
		return nil, err
	}
	if collect {
		for i, r := range results {
			if _, failed := r.(error); failed {
				results[i] = defaultResultFor(copies[i], fc)
			}
		}
	}
	return results, nil
}

func (o *ParallelOp) executeBlocking(ctx context.Context, fc *core.Context, copies []Op) (any, error) {
	groupCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pool := schedule.Default()
	futures := make([]*schedule.Future, len(copies))
	var firstErr error
	for i, cp := range copies {
		cp := cp
		f, err := pool.Submit(groupCtx, func() (any, error) {
			return Call(groupCtx, cp, fc, nil)
		})
		if err != nil {
			firstErr = err
			cancel(core.NewError(core.CANCELLED, "sibling op failed"))
			break
		}
		futures[i] = f
	}

	// Settle futures as they finish so one failing child cancels the rest
	// right away instead of after every earlier sibling returns. Every
	// submitted child settles before we return; results keep declared order.
	results := make([]any, len(copies))
	settled := make(chan int, len(futures))
	watching := 0
	for i, f := range futures {
		if f == nil {
			results[i] = defaultResultFor(copies[i], fc)
			continue
		}
		watching++
		go func(i int, f *schedule.Future) {
			f.Await(context.Background())
			settled <- i
		}(i, f)
	}
	for ; watching > 0; watching-- {
		i := <-settled
		res, err := futures[i].Await(context.Background())
		if err != nil {
			if firstErr == nil {
				firstErr = err
				cancel(core.NewError(core.CANCELLED, "sibling op failed"))
			}
			results[i] = defaultResultFor(copies[i], fc)
			continue
		}
		results[i] = res
	}
	if o.raiseOnFailure() && firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// defaultResultFor produces the output a failed parallel child contributes
// when the combinator collects instead of raising.
func defaultResultFor(o Op, fc *core.Context) any {
	b := o.base()
	clear(b.outputDict)
	b.rawResult = nil
	b.defaultExecute(fc)
	return b.result(b.ToolCall())
}

// Then composes a >> b: sequential execution. Adjacent sequential nodes
// are flattened so chains stay a single level deep.
func Then(a, b Op) (Op, error) {
	return compose(sequentialName, NewSequentialOp, a, b)
}

// Or composes a | b: parallel execution with flattening like Then.
func Or(a, b Op) (Op, error) {
	return compose(parallelName, NewParallelOp, a, b)
}

func compose(name string, ctor Constructor, a, b Op) (Op, error) {
	if a == nil || b == nil {
		return nil, core.NewError(core.INVALID_ARGUMENT, "cannot compose a nil op")
	}
	children := append(flatten(name, a), flatten(name, b)...)

	mode := children[0].AsyncMode()
	for _, c := range children[1:] {
		if c.AsyncMode() != mode {
			return nil, core.NewError(core.FAILED_PRECONDITION,
				"async mode mismatch: %s is async=%v, %s is async=%v",
				children[0].Name(), mode, c.Name(), c.AsyncMode())
		}
	}

	parent, err := ctor(Config{Name: name})
	if err != nil {
		return nil, err
	}
	pb := parent.base()
	pb.setAsyncMode(mode)
	for i, c := range children {
		if err := pb.AddChild(fmt.Sprintf("%d_%s", i, c.Name()), c); err != nil {
			return nil, err
		}
	}
	return parent, nil
}

// flatten unwraps an operand that is already the same kind of combinator.
func flatten(name string, o Op) []Op {
	switch o.(type) {
	case *SequentialOp:
		if name == sequentialName {
			return o.base().Children()
		}
	case *ParallelOp:
		if name == parallelName {
			return o.base().Children()
		}
	}
	return []Op{o}
}

// Attach implements parent << {name: child}: the children are stored for
// the parent's own execute to invoke. Combinator nodes reject attachment;
// their composition is fixed by the expression syntax.
func Attach(parent Op, name string, child Op) (Op, error) {
	switch parent.(type) {
	case *SequentialOp, *ParallelOp:
		return nil, core.NewError(core.FAILED_PRECONDITION,
			"cannot attach children to %s", parent.Name())
	}
	if err := parent.base().AddChild(name, child); err != nil {
		return nil, err
	}
	return parent, nil
}
