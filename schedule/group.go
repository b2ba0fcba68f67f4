package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
)

// NoTimeout makes Join wait without a local deadline.
const NoTimeout time.Duration = -1

type task struct {
	done   chan struct{}
	cancel context.CancelCauseFunc
	result any
	err    error
}

// TaskGroup collects the cooperative tasks submitted by one op. Join waits
// only for this group's tasks, never the parent's or a sibling's.
type TaskGroup struct {
	mu    sync.Mutex
	tasks []*task
}

func NewTaskGroup() *TaskGroup {
	return &TaskGroup{}
}

// Len returns the number of pending submissions.
func (g *TaskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Submit starts fn as a cooperative task. The task observes cancellation of
// ctx and of the group-local cancel installed by Join on timeout/failure.
func (g *TaskGroup) Submit(ctx context.Context, fn func(context.Context) (any, error)) {
	if fn == nil {
		logger.FromContext(ctx).Warn("schedule: submit of nil task ignored")
		return
	}
	taskCtx, cancel := context.WithCancelCause(ctx)
	t := &task{done: make(chan struct{}), cancel: cancel}
	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.mu.Unlock()
	go func() {
		defer close(t.done)
		t.result, t.err = fn(taskCtx)
		if t.err == nil && taskCtx.Err() != nil {
			t.err = core.FromContextErr(taskCtx.Err())
		}
	}()
}

// Join waits for every task submitted since the last Join and clears the
// group. Results are returned in submission order.
//
//   - timeout >= 0 imposes a local deadline: on expiry all still-running
//     tasks are cancelled, their settlement is awaited, and Join returns a
//     DEADLINE_EXCEEDED error. timeout == 0 acts as an immediate poll; it
//     succeeds only when every task has already settled.
//   - returnErrors=false: the first failure observed cancels every sibling,
//     running or not; Join waits for their settlement and returns that
//     error.
//   - returnErrors=true: Join waits for all tasks and embeds each error at
//     its task's position in the result slice.
func (g *TaskGroup) Join(ctx context.Context, timeout time.Duration, returnErrors bool) ([]any, error) {
	g.mu.Lock()
	tasks := g.tasks
	g.tasks = nil
	g.mu.Unlock()

	if len(tasks) == 0 {
		return nil, nil
	}

	waitCtx := ctx
	if timeout >= 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make([]any, len(tasks))
	var firstErr error
	record := func(i int) {
		t := tasks[i]
		if t.err != nil {
			if returnErrors {
				results[i] = t.err
				return
			}
			if firstErr == nil {
				firstErr = t.err
				cancelAll(tasks, core.NewError(core.CANCELLED, "sibling task failed"))
			}
			return
		}
		results[i] = t.result
	}

	// Sweep already-settled tasks without blocking. A zero timeout is an
	// immediate poll and must not lose a select race against its
	// already-expired deadline when nothing is left running.
	running := make([]bool, len(tasks))
	remaining := 0
	for i, t := range tasks {
		select {
		case <-t.done:
			record(i)
		default:
			running[i] = true
			remaining++
		}
	}

	// Watch every running task so a failure anywhere cancels the group
	// immediately, not after earlier siblings finish.
	if remaining > 0 {
		settled := make(chan int, remaining)
		for i, t := range tasks {
			if !running[i] {
				continue
			}
			go func(i int, t *task) {
				<-t.done
				settled <- i
			}(i, t)
		}
		for remaining > 0 {
			select {
			case i := <-settled:
				record(i)
				remaining--
			case <-waitCtx.Done():
				cancelAndSettle(tasks, core.FromContextErr(waitCtx.Err()))
				// Distinguish the local Join deadline from invocation-level
				// cancellation: a parent ctx cancellation wins.
				if ctx.Err() != nil {
					return nil, core.FromContextErr(ctx.Err())
				}
				return nil, core.NewError(core.DEADLINE_EXCEEDED, "join timed out after %s", timeout)
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// cancelAll cancels every task without waiting for settlement.
func cancelAll(tasks []*task, cause error) {
	for _, t := range tasks {
		t.cancel(cause)
	}
}

// cancelAndSettle cancels every task and blocks until all goroutines have
// observed the cancellation and exited.
func cancelAndSettle(tasks []*task, cause error) {
	for _, t := range tasks {
		t.cancel(cause)
	}
	for _, t := range tasks {
		<-t.done
	}
}
