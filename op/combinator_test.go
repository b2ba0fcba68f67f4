package op

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/core"
)

// addOneOp increments "n" in the shared context.
type addOneOp struct {
	Base
}

func newAddOneOp(cfg Config) (Op, error) {
	o := &addOneOp{}
	if err := o.Init(o, newAddOneOp, cfg); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *addOneOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	n := fc.GetInt("n") + 1
	fc.Set("n", n)
	return n, nil
}

// sleepOp writes its id to the context after a delay, or fails if told to.
type sleepOp struct {
	Base
	delay   time.Duration
	fail    bool
	started *atomic.Int32
	done    *atomic.Int32
}

func newSleepOp(name string, delay time.Duration, fail bool) *sleepOp {
	o := &sleepOp{delay: delay, fail: fail, started: &atomic.Int32{}, done: &atomic.Int32{}}
	var ctor Constructor
	ctor = func(cfg Config) (Op, error) {
		clone := &sleepOp{delay: o.delay, fail: o.fail, started: o.started, done: o.done}
		if err := clone.Init(clone, ctor, cfg); err != nil {
			return nil, err
		}
		return clone, nil
	}
	built, err := ctor(Config{Name: name})
	if err != nil {
		panic(err)
	}
	return built.(*sleepOp)
}

func (o *sleepOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	o.started.Add(1)
	defer o.done.Add(1)
	select {
	case <-time.After(o.delay):
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
	if o.fail {
		return nil, core.NewError(core.INTERNAL, "%s failed", o.Name())
	}
	fc.Set(o.Name(), "done")
	return o.Name(), nil
}

func TestSequentialHappensBefore(t *testing.T) {
	a, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	b, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	c, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)

	seq, err := Then(a, b)
	require.NoError(t, err)
	seq, err = Then(seq, c)
	require.NoError(t, err)
	assert.Len(t, seq.base().Children(), 3, "chains flatten into one node")

	fc := newFC()
	out, err := Call(context.Background(), seq, fc, map[string]any{"n": 0})
	require.NoError(t, err)
	assert.Equal(t, 3, out, "sequential returns the last child's output")
	assert.Equal(t, 3, fc.GetInt("n"))
}

func TestSequentialFailFast(t *testing.T) {
	failing := newSleepOp("fail_first_op", 0, true)
	after := newSleepOp("after_op", 0, false)

	seq, err := Then(failing, after)
	require.NoError(t, err)

	_, err = Call(context.Background(), seq, newFC(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), after.started.Load(), "children after the failure are not started")
}

func TestParallelDeclaredOrder(t *testing.T) {
	slow := newSleepOp("slow_op", 50*time.Millisecond, false)
	fast := newSleepOp("fast_op", 0, false)

	par, err := Or(slow, fast)
	require.NoError(t, err)

	out, err := Call(context.Background(), par, newFC(), nil)
	require.NoError(t, err)
	results, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, "slow_op", results[0], "results follow declared order, not completion order")
	assert.Equal(t, "fast_op", results[1])
}

func TestParallelRunsConcurrently(t *testing.T) {
	a := newSleepOp("conc_a_op", 60*time.Millisecond, false)
	b := newSleepOp("conc_b_op", 60*time.Millisecond, false)

	par, err := Or(a, b)
	require.NoError(t, err)

	start := time.Now()
	_, err = Call(context.Background(), par, newFC(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 110*time.Millisecond, "latencies overlap")
}

func TestParallelSiblingCancellation(t *testing.T) {
	failing := newSleepOp("par_fail_op", 5*time.Millisecond, true)
	slow := newSleepOp("par_slow_op", 2*time.Second, false)

	par, err := Or(failing, slow)
	require.NoError(t, err)

	start := time.Now()
	_, err = Call(context.Background(), par, newFC(), nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "sibling failure cancels the slow child")
	assert.Equal(t, slow.started.Load(), slow.done.Load(), "no child task is still running on return")
}

func TestParallelLaterFailureCancelsEarlierSibling(t *testing.T) {
	slow := newSleepOp("late_slow_op", 5*time.Second, false)
	failing := newSleepOp("late_fail_op", 5*time.Millisecond, true)

	par, err := Or(slow, failing)
	require.NoError(t, err)

	start := time.Now()
	_, err = Call(context.Background(), par, newFC(), nil)
	require.Error(t, err)
	assert.Equal(t, core.INTERNAL, core.StatusOf(err))
	assert.Less(t, time.Since(start), time.Second, "a later sibling's failure cancels the earlier slow child")
	assert.Equal(t, slow.started.Load(), slow.done.Load(), "no child task is still running on return")
}

func TestParallelCollectsDefaults(t *testing.T) {
	ok := newSleepOp("collect_ok_op", 0, false)
	bad := newSleepOp("collect_bad_op", 0, true)

	par, err := Or(ok, bad)
	require.NoError(t, err)
	par.base().cfg.RaiseOnFailure = BoolPtr(false)

	out, err := Call(context.Background(), par, newFC(), nil)
	require.NoError(t, err)
	results := out.([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "collect_ok_op", results[0], "completed children keep their results")
	_, isErr := results[1].(error)
	assert.False(t, isErr, "failed children contribute defaults, not errors")
}

func TestParallelCopiesChildren(t *testing.T) {
	child := newSleepOp("copied_op", 0, false)
	par, err := Or(child, child.mustCopy(t))
	require.NoError(t, err)

	_, err = Call(context.Background(), par, newFC(), nil)
	require.NoError(t, err)
	assert.Empty(t, child.base().outputDict, "the declared child instance never runs directly")
}

func (o *sleepOp) mustCopy(t *testing.T) Op {
	t.Helper()
	cp, err := o.Copy()
	require.NoError(t, err)
	return cp
}

func TestEmptyCombinatorRejected(t *testing.T) {
	seq, err := NewSequentialOp(Config{})
	require.NoError(t, err)
	_, err = Call(context.Background(), seq, newFC(), nil)
	require.Error(t, err)
	assert.Equal(t, core.FAILED_PRECONDITION, core.StatusOf(err))

	par, err := NewParallelOp(Config{})
	require.NoError(t, err)
	_, err = Call(context.Background(), par, newFC(), nil)
	require.Error(t, err)
}

// blockingOp implements Execute only, so its async mode is false.
type blockingOp struct {
	Base
}

func newBlockingOp(cfg Config) (Op, error) {
	o := &blockingOp{}
	if err := o.Init(o, newBlockingOp, cfg); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *blockingOp) Execute(ctx context.Context, fc *core.Context) (any, error) {
	return "blocking", nil
}

func TestAsyncModeMismatchRejected(t *testing.T) {
	async, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	sync, err := newBlockingOp(Config{Name: "blocking_op"})
	require.NoError(t, err)

	_, err = Then(async, sync)
	require.Error(t, err)
	assert.Equal(t, core.FAILED_PRECONDITION, core.StatusOf(err))

	_, err = Or(async, sync)
	require.Error(t, err)
}

func TestBlockingParallelUsesPool(t *testing.T) {
	a, err := newBlockingOp(Config{Name: "blocking_op"})
	require.NoError(t, err)
	b, err := newBlockingOp(Config{Name: "blocking_op"})
	require.NoError(t, err)

	par, err := Or(a, b)
	require.NoError(t, err)
	assert.False(t, par.AsyncMode())

	out, err := Call(context.Background(), par, newFC(), nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"blocking", "blocking"}, out)
}

// blockingSleepOp is the sync twin of sleepOp for exercising the pool path.
type blockingSleepOp struct {
	Base
	delay time.Duration
	fail  bool
	done  *atomic.Int32
}

func newBlockingSleepOp(name string, delay time.Duration, fail bool) *blockingSleepOp {
	o := &blockingSleepOp{delay: delay, fail: fail, done: &atomic.Int32{}}
	var ctor Constructor
	ctor = func(cfg Config) (Op, error) {
		clone := &blockingSleepOp{delay: o.delay, fail: o.fail, done: o.done}
		if err := clone.Init(clone, ctor, cfg); err != nil {
			return nil, err
		}
		return clone, nil
	}
	built, err := ctor(Config{Name: name})
	if err != nil {
		panic(err)
	}
	return built.(*blockingSleepOp)
}

func (o *blockingSleepOp) Execute(ctx context.Context, fc *core.Context) (any, error) {
	defer o.done.Add(1)
	select {
	case <-time.After(o.delay):
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
	if o.fail {
		return nil, core.NewError(core.INTERNAL, "%s failed", o.Name())
	}
	return o.Name(), nil
}

func TestBlockingParallelLaterFailureCancelsEarlierSibling(t *testing.T) {
	slow := newBlockingSleepOp("pool_slow_op", 5*time.Second, false)
	failing := newBlockingSleepOp("pool_fail_op", 5*time.Millisecond, true)

	par, err := Or(slow, failing)
	require.NoError(t, err)
	require.False(t, par.AsyncMode())

	start := time.Now()
	_, err = Call(context.Background(), par, newFC(), nil)
	require.Error(t, err)
	assert.Equal(t, core.INTERNAL, core.StatusOf(err))
	assert.Less(t, time.Since(start), time.Second, "a later future's failure cancels the earlier slow child")
}

func TestAttachOnCombinatorRejected(t *testing.T) {
	a, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	b, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	seq, err := Then(a, b)
	require.NoError(t, err)

	child, err := newAddOneOp(Config{Name: "add_one_op"})
	require.NoError(t, err)
	_, err = Attach(seq, "extra", child)
	require.Error(t, err)
	assert.Equal(t, core.FAILED_PRECONDITION, core.StatusOf(err))
}

func TestAttachStoresChildren(t *testing.T) {
	parent, err := newAddOneOp(Config{Name: "router_op"})
	require.NoError(t, err)
	child, err := newBlockingOp(Config{Name: "blocking_op"})
	require.NoError(t, err)

	_, err = Attach(parent, "helper", child)
	require.NoError(t, err)
	got, ok := parent.base().Child("helper")
	require.True(t, ok)
	assert.Equal(t, "blocking_op", got.Name())
}
