package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, OK, StatusOf(nil))
	assert.Equal(t, NOT_FOUND, StatusOf(NewError(NOT_FOUND, "missing")))
	assert.Equal(t, CANCELLED, StatusOf(context.Canceled))
	assert.Equal(t, DEADLINE_EXCEEDED, StatusOf(context.DeadlineExceeded))
	assert.Equal(t, UNKNOWN, StatusOf(errors.New("plain")))

	wrapped := Errorf(UNAVAILABLE, errors.New("io"), "provider down")
	assert.Equal(t, UNAVAILABLE, StatusOf(wrapped))
}

func TestTransientAndCancellation(t *testing.T) {
	assert.True(t, IsTransient(NewError(UNAVAILABLE, "x")))
	assert.True(t, IsTransient(NewError(RESOURCE_EXHAUSTED, "x")))
	assert.True(t, IsTransient(errors.New("unclassified")))
	assert.False(t, IsTransient(NewError(INVALID_ARGUMENT, "x")))
	assert.False(t, IsTransient(context.Canceled))

	assert.True(t, IsCancellation(context.Canceled))
	assert.True(t, IsCancellation(NewError(DEADLINE_EXCEEDED, "x")))
	assert.False(t, IsCancellation(NewError(UNAVAILABLE, "x")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Errorf(INTERNAL, cause, "wrapped")
	assert.True(t, errors.Is(err, cause))
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, 499, HTTPStatusCode(CANCELLED))
	assert.Equal(t, http.StatusRequestTimeout, HTTPStatusCode(DEADLINE_EXCEEDED))
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(NOT_FOUND))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(StatusName("bogus")))
}

func TestMarshalFlat(t *testing.T) {
	r := NewResponse()
	r.Answer = "hi"
	r.Metadata["len"] = 2
	data, err := r.MarshalFlat()
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "hi", flat["answer"])
	assert.Equal(t, float64(2), flat["len"])
	assert.Equal(t, []any{}, flat["messages"])
}

func TestContextDataAccess(t *testing.T) {
	fc := NewContext(context.Background(), WithRequest(map[string]any{"a": 1, "s": "x"}))
	assert.Equal(t, map[string]any{"a": 1, "s": "x"}, fc.Request)
	assert.Equal(t, 1, fc.GetInt("a"))
	assert.Equal(t, "x", fc.GetString("s"))
	assert.False(t, fc.Has("missing"))

	fc.Set("b", true)
	assert.True(t, fc.GetBool("b"))
	fc.Update(map[string]any{"c": 2.5})
	assert.Equal(t, 2.5, fc.GetFloat("c"))
	fc.Delete("b")
	assert.False(t, fc.Has("b"))

	snap := fc.Snapshot()
	snap["a"] = 99
	assert.Equal(t, 1, fc.GetInt("a"), "snapshot is a copy")
}

func TestContextConcurrentWrites(t *testing.T) {
	fc := NewContext(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			fc.Set(string(rune('a'+i)), i)
			fc.SetMeta(string(rune('a'+i)), i)
		}()
	}
	wg.Wait()
	assert.Len(t, fc.Snapshot(), 8)
	assert.Len(t, fc.Response.Metadata, 8)
}

func TestEmitWithoutPipe(t *testing.T) {
	fc := NewContext(context.Background())
	assert.False(t, fc.Streaming())
	assert.NoError(t, fc.Emit(AnswerChunk("dropped")))
}

func TestStreamPipeSendReceive(t *testing.T) {
	p := NewStreamPipe(2)
	require.NoError(t, p.Send(context.Background(), AnswerChunk("a")))
	require.NoError(t, p.Send(context.Background(), ThinkChunk("b")))
	p.CloseSend()

	var got []StreamChunk
	for c := range p.Chunks() {
		got = append(got, c)
	}
	require.Len(t, got, 2)
	assert.Equal(t, ChunkAnswer, got[0].Kind)
	assert.Equal(t, ChunkThink, got[1].Kind)
}

func TestStreamPipeSendBlocksUntilCancelled(t *testing.T) {
	p := NewStreamPipe(1)
	require.NoError(t, p.Send(context.Background(), AnswerChunk("fills the buffer")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Send(ctx, AnswerChunk("blocked"))
	require.Error(t, err)
	assert.Equal(t, DEADLINE_EXCEEDED, StatusOf(err))
}

func TestStreamPipeCloseIdempotent(t *testing.T) {
	p := NewStreamPipe(1)
	p.CloseSend()
	assert.NotPanics(t, p.CloseSend)
}

func TestToolCallDefaults(t *testing.T) {
	tc := &ToolCall{}
	tc.EnsureDefaults("len", 2)
	assert.Equal(t, "len", tc.Name)
	assert.Equal(t, 2, tc.Index)
	require.Contains(t, tc.OutputSchema, "len_result")
	assert.Equal(t, "str", tc.OutputSchema["len_result"].Type)
}

func TestJSONSchema(t *testing.T) {
	params := map[string]ParamAttrs{
		"query": {Type: "str", Required: true, Description: "the query"},
		"top_k": {Type: "int", Default: 5},
	}
	schema := JSONSchema(params, true)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Equal(t, []string{"query"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, "string", props["query"].(map[string]any)["type"])
	assert.Equal(t, "integer", props["top_k"].(map[string]any)["type"])
	assert.Equal(t, 5, props["top_k"].(map[string]any)["default"])

	loose := JSONSchema(params, false)
	_, ok := loose["additionalProperties"]
	assert.False(t, ok)
}
