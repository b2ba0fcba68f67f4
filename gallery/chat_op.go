package gallery

import (
	"context"

	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/core/logger"
	"github.com/flowllm-ai/flowllm/llm"
	"github.com/flowllm-ai/flowllm/op"
	"github.com/flowllm-ai/flowllm/token"
)

var defaultChatPrompts = map[string]string{
	"system_prompt":    "You are a helpful assistant. Answer the user's question directly and concisely.",
	"system_prompt_zh": "你是一个乐于助人的助手。请直接、简洁地回答用户的问题。",
}

// ChatOp runs one chat turn against the configured model. The reply is the
// flow answer and both turns land in the response transcript.
type ChatOp struct {
	op.Base
}

// StreamChatOp is ChatOp with incremental delivery: model deltas are
// forwarded to the stream pipe as THINK and ANSWER chunks as they arrive.
type StreamChatOp struct {
	op.Base
}

func init() {
	var chatCtor op.Constructor
	chatCtor = func(cfg op.Config) (op.Op, error) {
		o := &ChatOp{}
		if err := o.Init(o, chatCtor, cfg); err != nil {
			return nil, err
		}
		if cfg.PromptPath == "" {
			o.SetPrompts(defaultChatPrompts)
		}
		return o, nil
	}
	op.Register("chat_op", chatCtor)

	var streamCtor op.Constructor
	streamCtor = func(cfg op.Config) (op.Op, error) {
		o := &StreamChatOp{}
		if err := o.Init(o, streamCtor, cfg); err != nil {
			return nil, err
		}
		if cfg.PromptPath == "" {
			o.SetPrompts(defaultChatPrompts)
		}
		return o, nil
	}
	op.Register("stream_chat_op", streamCtor)
}

func (o *ChatOp) BuildToolCall() *core.ToolCall {
	return chatToolCall("chat")
}

func (o *ChatOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	return chatTurn(ctx, &o.Base, fc, nil)
}

func (o *StreamChatOp) BuildToolCall() *core.ToolCall {
	return chatToolCall("stream_chat")
}

func (o *StreamChatOp) AsyncExecute(ctx context.Context, fc *core.Context) (any, error) {
	cb := func(ctx context.Context, chunk llm.Chunk) error {
		if chunk.Text == "" {
			return nil
		}
		if chunk.Thinking {
			return fc.Emit(core.ThinkChunk(chunk.Text))
		}
		return fc.Emit(core.AnswerChunk(chunk.Text))
	}
	return chatTurn(ctx, &o.Base, fc, cb)
}

func chatToolCall(shortName string) *core.ToolCall {
	return &core.ToolCall{
		Description: "Answer a question with the configured language model.",
		InputSchema: map[string]core.ParamAttrs{
			"query": {Type: "str", Description: "The user's question.", Required: true},
		},
		OutputSchema: map[string]core.ParamAttrs{
			shortName + "_result": {Type: "str", Description: "The model's reply."},
		},
	}
}

// chatTurn is the shared chat lifecycle: render the system prompt, call the
// model, record the transcript and the answer.
func chatTurn(ctx context.Context, b *op.Base, fc *core.Context, cb llm.Callback) (any, error) {
	query := b.InputString("query")
	system, err := b.Prompt("system_prompt", nil)
	if err != nil {
		return nil, err
	}

	handle, err := b.LLM()
	if err != nil {
		return nil, err
	}

	messages := []core.Message{
		{Role: core.RoleSystem, Content: system},
		{Role: core.RoleUser, Content: query},
	}
	if counter, err := token.Resolve("default"); err == nil {
		logger.FromContext(ctx).Debug("chat prompt assembled",
			"op", b.Name(), "prompt_tokens", token.CountMessages(counter, messages))
	}

	reply, err := handle.Generate(ctx, &llm.Request{Messages: messages, Params: b.Cfg().Params}, cb)
	if err != nil {
		return nil, err
	}

	fc.AppendMessage(core.Message{Role: core.RoleUser, Content: query})
	fc.AppendMessage(*reply)
	fc.SetAnswer(reply.Content)
	return reply.Content, nil
}
