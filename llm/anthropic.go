package llm

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
)

func init() {
	Register("anthropic", newAnthropic)
}

type anthropicBackend struct {
	client anthropic.Client
	model  string
}

func newAnthropic(cfg config.LLMConfig) (LLM, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	opts := []option.RequestOption{option.WithAPIKey(os.Getenv(keyEnv))}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.ModelName == "" {
		return nil, core.NewError(core.INVALID_ARGUMENT, "anthropic: model_name is required")
	}
	return &anthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  cfg.ModelName,
	}, nil
}

func (c *anthropicBackend) Generate(ctx context.Context, req *Request, cb Callback) (*core.Message, error) {
	system, rest := SystemAndRest(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  toAnthropicMessages(rest),
		MaxTokens: int64(ParamInt(req.Params, "max_tokens", 4096)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if budget := ParamInt(req.Params, "thinking_budget_tokens", 0); budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	if cb == nil {
		msg, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, wrapAnthropicErr(err)
		}
		var b strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return &core.Message{Role: core.RoleAssistant, Content: b.String()}, nil
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	var b strings.Builder
	for stream.Next() {
		event := stream.Current()
		if event.Type != "content_block_delta" {
			continue
		}
		delta := event.AsContentBlockDelta().Delta
		switch delta.Type {
		case "text_delta":
			if delta.Text == "" {
				continue
			}
			b.WriteString(delta.Text)
			if err := cb(ctx, Chunk{Text: delta.Text}); err != nil {
				return nil, err
			}
		case "thinking_delta":
			if delta.Thinking == "" {
				continue
			}
			if err := cb(ctx, Chunk{Text: delta.Thinking, Thinking: true}); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapAnthropicErr(err)
	}
	return &core.Message{Role: core.RoleAssistant, Content: b.String()}, nil
}

func toAnthropicMessages(messages []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == core.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func wrapAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return core.Errorf(core.RESOURCE_EXHAUSTED, err, "anthropic: rate limited")
		case apiErr.StatusCode >= 500:
			return core.Errorf(core.UNAVAILABLE, err, "anthropic: server error")
		case apiErr.StatusCode == http.StatusUnauthorized:
			return core.Errorf(core.UNAUTHENTICATED, err, "anthropic: bad credentials")
		case apiErr.StatusCode >= 400:
			return core.Errorf(core.INVALID_ARGUMENT, err, "anthropic: bad request")
		}
	}
	if core.IsCancellation(err) {
		return core.FromContextErr(err)
	}
	return core.Errorf(core.UNAVAILABLE, err, "anthropic: request failed")
}
