package gallery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/op"
)

func setTestConfig(t *testing.T, mockParams map[string]any) {
	t.Helper()
	cfg := config.Default()
	cfg.LLMs = map[string]config.LLMConfig{
		"default": {Backend: "mock", Params: mockParams},
	}
	cfg.EmbeddingModels = map[string]config.EmbeddingConfig{
		"default": {Backend: "mock"},
	}
	config.Set(cfg)
	t.Cleanup(func() { config.Set(config.Default()) })
}

func TestEchoOp(t *testing.T) {
	o, err := op.New("echo_op", op.Config{})
	require.NoError(t, err)
	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"text": "hi"}))
	out, err := op.AsyncCall(context.Background(), o, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)
	assert.Equal(t, "echo: hi", fc.Response.Answer)
}

func TestMockOpCannedAnswer(t *testing.T) {
	o, err := op.New("mock_op", op.Config{Params: map[string]any{"answer": "pong"}})
	require.NoError(t, err)
	fc := core.NewContext(context.Background())
	out, err := op.AsyncCall(context.Background(), o, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestSleepOpCancelled(t *testing.T) {
	o, err := op.New("sleep_op", op.Config{Params: map[string]any{"delay_ms": 500}})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	fc := core.NewContext(ctx)
	start := time.Now()
	_, err = op.AsyncCall(ctx, o, fc, nil)
	require.Error(t, err)
	assert.Equal(t, core.DEADLINE_EXCEEDED, core.StatusOf(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestChatOp(t *testing.T) {
	setTestConfig(t, map[string]any{"answer": "the sky is blue"})
	o, err := op.New("chat_op", op.Config{})
	require.NoError(t, err)
	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"query": "why is the sky blue?"}))
	out, err := op.AsyncCall(context.Background(), o, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "the sky is blue", out)
	assert.Equal(t, "the sky is blue", fc.Response.Answer)
	require.Len(t, fc.Response.Messages, 2)
	assert.Equal(t, core.RoleUser, fc.Response.Messages[0].Role)
	assert.Equal(t, core.RoleAssistant, fc.Response.Messages[1].Role)
}

func TestStreamChatOpEmitsChunks(t *testing.T) {
	setTestConfig(t, map[string]any{"answer": "hello world", "thinking": "pondering"})
	o, err := op.New("stream_chat_op", op.Config{})
	require.NoError(t, err)

	pipe := core.NewStreamPipe(0)
	fc := core.NewContext(context.Background(),
		core.WithRequest(map[string]any{"query": "greet me"}),
		core.WithPipe(pipe))

	done := make(chan struct{})
	var chunks []core.StreamChunk
	go func() {
		defer close(done)
		for c := range pipe.Chunks() {
			chunks = append(chunks, c)
		}
	}()

	_, err = op.AsyncCall(context.Background(), o, fc, nil)
	require.NoError(t, err)
	pipe.CloseSend()
	<-done

	require.NotEmpty(t, chunks)
	assert.Equal(t, core.ChunkThink, chunks[0].Kind)
	var answer string
	for _, c := range chunks[1:] {
		assert.Equal(t, core.ChunkAnswer, c.Kind)
		answer += c.Content.(string)
	}
	assert.Equal(t, "hello world", answer)
}

func TestReactAgentRoutesToTool(t *testing.T) {
	setTestConfig(t, map[string]any{"answer": `{"tool": "echo", "args": {"text": "hello"}}`})
	agent, err := op.New("react_agent_op", op.Config{})
	require.NoError(t, err)
	child, err := op.New("echo_op", op.Config{})
	require.NoError(t, err)
	_, err = op.Attach(agent, "echo", child)
	require.NoError(t, err)

	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"query": "please echo hello"}))
	out, err := op.AsyncCall(context.Background(), agent, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
	assert.Equal(t, "echo: hello", fc.Response.Answer)
}

func TestReactAgentDirectAnswer(t *testing.T) {
	setTestConfig(t, map[string]any{"answer": `{"answer": "42"}`})
	agent, err := op.New("react_agent_op", op.Config{})
	require.NoError(t, err)
	child, err := op.New("echo_op", op.Config{})
	require.NoError(t, err)
	_, err = op.Attach(agent, "echo", child)
	require.NoError(t, err)

	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"query": "meaning of life"}))
	out, err := op.AsyncCall(context.Background(), agent, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestReactAgentUnknownTool(t *testing.T) {
	setTestConfig(t, map[string]any{"answer": `{"tool": "missing", "args": {}}`})
	agent, err := op.New("react_agent_op", op.Config{})
	require.NoError(t, err)
	child, err := op.New("echo_op", op.Config{})
	require.NoError(t, err)
	_, err = op.Attach(agent, "echo", child)
	require.NoError(t, err)

	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"query": "q"}))
	_, err = op.AsyncCall(context.Background(), agent, fc, nil)
	require.Error(t, err)
	assert.Equal(t, core.INVALID_ARGUMENT, core.StatusOf(err))
}

func TestInsertThenRetrieve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	cfg := config.Default()
	cfg.LLMs = map[string]config.LLMConfig{"default": {Backend: "mock"}}
	cfg.EmbeddingModels = map[string]config.EmbeddingConfig{"default": {Backend: "mock"}}
	cfg.VectorStores = map[string]config.VectorStoreConfig{
		"default": {Backend: "memory", EmbeddingModel: "default", Params: map[string]any{"path": path}},
	}
	config.Set(cfg)
	t.Cleanup(func() { config.Set(config.Default()) })

	ins, err := op.New("insert_op", op.Config{})
	require.NoError(t, err)
	fc := core.NewContext(context.Background(), core.WithRequest(map[string]any{"text": "apples are red"}))
	_, err = op.AsyncCall(context.Background(), ins, fc, nil)
	require.NoError(t, err)

	store, err := ins.(*InsertOp).VectorStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	ret, err := op.New("retrieve_op", op.Config{})
	require.NoError(t, err)
	fc = core.NewContext(context.Background(), core.WithRequest(map[string]any{"query": "apples are red", "top_k": 1}))
	out, err := op.AsyncCall(context.Background(), ret, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, "apples are red", out)
	assert.Equal(t, "apples are red", fc.Response.Metadata["retrieve_result"])
}
