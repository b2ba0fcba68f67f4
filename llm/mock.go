package llm

import (
	"context"
	"strings"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
)

func init() {
	Register("mock", newMock)
}

// mockLLM is the offline backend used by tests and the sample configs. It
// returns the canned answer from its params, or echoes the last user
// message when none is configured. Streaming splits the answer into
// whitespace-delimited chunks.
type mockLLM struct {
	answer   string
	thinking string
}

func newMock(cfg config.LLMConfig) (LLM, error) {
	return &mockLLM{
		answer:   ParamString(cfg.Params, "answer", ""),
		thinking: ParamString(cfg.Params, "thinking", ""),
	}, nil
}

func (m *mockLLM) Generate(ctx context.Context, req *Request, cb Callback) (*core.Message, error) {
	answer := m.answer
	if answer == "" {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == core.RoleUser {
				answer = "mock: " + req.Messages[i].Content
				break
			}
		}
	}
	if cb != nil {
		if m.thinking != "" {
			if err := cb(ctx, Chunk{Text: m.thinking, Thinking: true}); err != nil {
				return nil, err
			}
		}
		for i, word := range strings.Fields(answer) {
			text := word
			if i > 0 {
				text = " " + word
			}
			if err := cb(ctx, Chunk{Text: text}); err != nil {
				return nil, err
			}
		}
	}
	return &core.Message{Role: core.RoleAssistant, Content: answer}, nil
}
