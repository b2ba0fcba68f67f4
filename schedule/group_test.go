package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/core"
)

func TestJoinSubmissionOrder(t *testing.T) {
	g := NewTaskGroup()
	for i := 0; i < 4; i++ {
		i := i
		g.Submit(context.Background(), func(ctx context.Context) (any, error) {
			// Later submissions finish first.
			time.Sleep(time.Duration(4-i) * 10 * time.Millisecond)
			return i, nil
		})
	}
	results, err := g.Join(context.Background(), NoTimeout, false)
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3}, results)
}

func TestJoinEmpty(t *testing.T) {
	g := NewTaskGroup()
	results, err := g.Join(context.Background(), NoTimeout, false)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestJoinFirstErrorCancelsSiblings(t *testing.T) {
	g := NewTaskGroup()
	var cancelled atomic.Bool

	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, core.NewError(core.INTERNAL, "boom")
	})
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "finished", nil
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, core.FromContextErr(ctx.Err())
		}
	})

	start := time.Now()
	_, err := g.Join(context.Background(), NoTimeout, false)
	require.Error(t, err)
	assert.Equal(t, core.INTERNAL, core.StatusOf(err))
	assert.True(t, cancelled.Load(), "sibling observed cancellation")
	assert.Less(t, time.Since(start), time.Second)
}

func TestJoinFailFastCancelsEarlierSibling(t *testing.T) {
	g := NewTaskGroup()
	var cancelled atomic.Bool

	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "finished", nil
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, core.FromContextErr(ctx.Err())
		}
	})
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, core.NewError(core.INTERNAL, "boom")
	})

	start := time.Now()
	_, err := g.Join(context.Background(), NoTimeout, false)
	require.Error(t, err)
	assert.Equal(t, core.INTERNAL, core.StatusOf(err))
	assert.True(t, cancelled.Load(), "earlier sibling observed cancellation")
	assert.Less(t, time.Since(start), time.Second, "failure is not held behind a running earlier sibling")
}

func TestJoinCollectErrors(t *testing.T) {
	g := NewTaskGroup()
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	failure := core.NewError(core.UNAVAILABLE, "flaky")
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, failure
	})
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return "also ok", nil
	})

	results, err := g.Join(context.Background(), NoTimeout, true)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "ok", results[0])
	assert.Equal(t, failure, results[1])
	assert.Equal(t, "also ok", results[2])
}

func TestJoinTimeout(t *testing.T) {
	g := NewTaskGroup()
	var settled atomic.Bool
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			settled.Store(true)
			return nil, core.FromContextErr(ctx.Err())
		}
	})

	start := time.Now()
	_, err := g.Join(context.Background(), 50*time.Millisecond, false)
	require.Error(t, err)
	assert.Equal(t, core.DEADLINE_EXCEEDED, core.StatusOf(err))
	assert.True(t, settled.Load(), "join waited for settlement after cancelling")
	assert.Less(t, time.Since(start), time.Second)
}

func TestJoinZeroTimeoutSettledGroup(t *testing.T) {
	g := NewTaskGroup()
	ran := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		i := i
		g.Submit(context.Background(), func(ctx context.Context) (any, error) {
			ran <- struct{}{}
			return i, nil
		})
	}
	<-ran
	<-ran
	// Settlement lands just after the task body returns.
	time.Sleep(20 * time.Millisecond)

	results, err := g.Join(context.Background(), 0, false)
	require.NoError(t, err, "a zero timeout polls an already-settled group successfully")
	assert.Equal(t, []any{0, 1}, results)
}

func TestJoinZeroTimeoutPendingTask(t *testing.T) {
	g := NewTaskGroup()
	g.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, core.FromContextErr(ctx.Err())
	})

	start := time.Now()
	_, err := g.Join(context.Background(), 0, false)
	require.Error(t, err)
	assert.Equal(t, core.DEADLINE_EXCEEDED, core.StatusOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestJoinParentCancellationWins(t *testing.T) {
	g := NewTaskGroup()
	ctx, cancel := context.WithCancel(context.Background())
	g.Submit(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, core.FromContextErr(ctx.Err())
	})
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Join(ctx, NoTimeout, false)
	require.Error(t, err)
	assert.Equal(t, core.CANCELLED, core.StatusOf(err))
}

func TestSubmitNilTaskIgnored(t *testing.T) {
	g := NewTaskGroup()
	g.Submit(context.Background(), nil)
	assert.Equal(t, 0, g.Len())
}

func TestJoinClearsGroup(t *testing.T) {
	g := NewTaskGroup()
	g.Submit(context.Background(), func(ctx context.Context) (any, error) { return 1, nil })
	_, err := g.Join(context.Background(), NoTimeout, false)
	require.NoError(t, err)
	assert.Equal(t, 0, g.Len())
}
