package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/op"
)

type flowEchoOp struct {
	op.Base
}

func (o *flowEchoOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	query := fc.GetString("query")
	if err := fc.Emit(core.AnswerChunk(query)); err != nil {
		return nil, err
	}
	if tone := fc.GetString("tone"); tone != "" {
		fc.SetMeta("tone", tone)
	}
	fc.SetAnswer(query)
	return query, nil
}

type flowSleepOp struct {
	op.Base
}

func (o *flowSleepOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	select {
	case <-time.After(5 * time.Second):
		return "done", nil
	case <-ctx.Done():
		return nil, core.FromContextErr(ctx.Err())
	}
}

func init() {
	var echoCtor op.Constructor
	echoCtor = func(cfg op.Config) (op.Op, error) {
		o := &flowEchoOp{}
		if err := o.Init(o, echoCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("f_echo_op", echoCtor)

	var sleepCtor op.Constructor
	sleepCtor = func(cfg op.Config) (op.Op, error) {
		o := &flowSleepOp{}
		if err := o.Init(o, sleepCtor, cfg); err != nil {
			return nil, err
		}
		return o, nil
	}
	op.Register("f_sleep_op", sleepCtor)
}

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := config.Default()
	cfg.FlowTimeoutSeconds = 30
	cfg.Flows = map[string]config.FlowConfig{
		"echo": {
			FlowContent: "f_echo_op()",
			Description: "Echoes the query back.",
			InputSchema: map[string]core.ParamAttrs{
				"query": {Type: "str", Required: true},
				"tone":  {Type: "str", Default: "neutral"},
			},
		},
		"slow": {
			FlowContent: "f_sleep_op()",
		},
	}
	flows, err := FromConfig(cfg)
	require.NoError(t, err)
	return NewDispatcher(flows, cfg)
}

func TestExecuteEcho(t *testing.T) {
	d := testDispatcher(t)
	resp, err := d.Execute(context.Background(), "echo", map[string]any{"query": "hello"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Answer)
}

func TestExecuteUnknownFlow(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Execute(context.Background(), "nope", nil, Options{})
	require.Error(t, err)
	assert.Equal(t, core.NOT_FOUND, core.StatusOf(err))
}

func TestExecuteMissingRequiredInput(t *testing.T) {
	d := testDispatcher(t)
	_, err := d.Execute(context.Background(), "echo", map[string]any{}, Options{})
	require.Error(t, err)
	assert.Equal(t, core.INVALID_ARGUMENT, core.StatusOf(err))
}

func TestExecuteStrictRejectsExtras(t *testing.T) {
	d := testDispatcher(t)
	args := map[string]any{"query": "hi", "debug": true}

	_, err := d.Execute(context.Background(), "echo", args, Options{})
	require.NoError(t, err, "extras pass through outside strict mode")

	_, err = d.Execute(context.Background(), "echo", args, Options{Strict: true})
	require.Error(t, err)
	assert.Equal(t, core.INVALID_ARGUMENT, core.StatusOf(err))
}

func TestExecuteAppliesDefaults(t *testing.T) {
	d := testDispatcher(t)
	resp, err := d.Execute(context.Background(), "echo", map[string]any{"query": "hi"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "neutral", resp.Metadata["tone"], "schema default reaches the op")
}

func TestExecuteTimeout(t *testing.T) {
	d := testDispatcher(t)
	start := time.Now()
	_, err := d.Execute(context.Background(), "slow", nil, Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, core.DEADLINE_EXCEEDED, core.StatusOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecuteStreamClosesPipe(t *testing.T) {
	d := testDispatcher(t)
	pipe := core.NewStreamPipe(0)

	done := make(chan struct{})
	var chunks []core.StreamChunk
	go func() {
		defer close(done)
		for c := range pipe.Chunks() {
			chunks = append(chunks, c)
		}
	}()

	resp, err := d.Execute(context.Background(), "echo", map[string]any{"query": "streamed"}, Options{Pipe: pipe})
	require.NoError(t, err)
	<-done

	assert.Equal(t, "streamed", resp.Answer)
	require.Len(t, chunks, 1)
	assert.Equal(t, core.ChunkAnswer, chunks[0].Kind)
	assert.Equal(t, "streamed", chunks[0].Content)
}

func TestFlowExprRoundTrip(t *testing.T) {
	d := testDispatcher(t)
	f, ok := d.Flow("echo")
	require.True(t, ok)
	assert.Equal(t, "f_echo_op()", f.Expr())
}
