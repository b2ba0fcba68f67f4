// Package gallery ships the built-in ops: demo and test ops, LLM chat ops
// and a react-style tool router. Importing the package registers them all.
package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/op"
)

// EchoOp answers with its "text" argument, the smallest possible flow
// building block.
type EchoOp struct {
	op.Base
}

// MockOp returns a canned answer after an optional delay. Params:
// "answer" (default "mock answer"), "delay_ms".
type MockOp struct {
	op.Base
}

// SleepOp blocks for "delay_ms" milliseconds (default 1000), honoring
// cancellation. It exists to exercise timeouts and parallel scheduling.
type SleepOp struct {
	op.Base
}

func init() {
	var echoCtor op.Constructor
	echoCtor = func(cfg op.Config) (op.Op, error) {
		o := &EchoOp{}
		if err := o.Init(o, echoCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("echo_op", echoCtor)

	var mockCtor op.Constructor
	mockCtor = func(cfg op.Config) (op.Op, error) {
		o := &MockOp{}
		if err := o.Init(o, mockCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("mock_op", mockCtor)

	var sleepCtor op.Constructor
	sleepCtor = func(cfg op.Config) (op.Op, error) {
		o := &SleepOp{}
		if err := o.Init(o, sleepCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("sleep_op", sleepCtor)
}

func (o *EchoOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	answer := "echo: " + fc.GetString("text")
	if err := fc.Emit(core.AnswerChunk(answer)); err != nil {
		return nil, err
	}
	fc.SetAnswer(answer)
	return answer, nil
}

func (o *MockOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	v, _ := o.Param("delay_ms")
	if delay := paramDuration(v); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.FromContextErr(ctx.Err())
		}
	}
	answer := o.ParamString("answer", "mock answer")
	if err := fc.Emit(core.AnswerChunk(answer)); err != nil {
		return nil, err
	}
	fc.SetAnswer(answer)
	return answer, nil
}

func (o *SleepOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	v, _ := o.Param("delay_ms")
	delay := paramDuration(v)
	if delay <= 0 {
		delay = time.Second
	}
	select {
	case <-time.After(delay):
		return fmt.Sprintf("slept %s", delay), nil
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
}

func paramDuration(v any) time.Duration {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond
	case int64:
		return time.Duration(n) * time.Millisecond
	case float64:
		return time.Duration(n) * time.Millisecond
	}
	return 0
}
