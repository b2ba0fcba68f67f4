package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
)

func init() {
	Register("openai_compatible", newOpenAICompatible)
}

// openAICompatible talks to any endpoint speaking the OpenAI chat API,
// which covers OpenAI itself plus the self-hosted gateways (vLLM, Ollama,
// DashScope) selected via base_url.
type openAICompatible struct {
	client *openai.Client
	model  string
}

func newOpenAICompatible(cfg config.LLMConfig) (LLM, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "OPENAI_API_KEY"
	}
	clientCfg := openai.DefaultConfig(os.Getenv(keyEnv))
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.ModelName == "" {
		return nil, core.NewError(core.INVALID_ARGUMENT, "openai_compatible: model_name is required")
	}
	return &openAICompatible{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.ModelName,
	}, nil
}

func (c *openAICompatible) Generate(ctx context.Context, req *Request, cb Callback) (*core.Message, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(ParamFloat(req.Params, "temperature", 0)),
		MaxTokens:   ParamInt(req.Params, "max_tokens", 0),
	}
	if cb == nil {
		resp, err := c.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return nil, wrapOpenAIErr(err)
		}
		if len(resp.Choices) == 0 {
			return nil, core.NewError(core.INTERNAL, "openai_compatible: response has no choices")
		}
		return &core.Message{Role: core.RoleAssistant, Content: resp.Choices[0].Message.Content}, nil
	}

	chatReq.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, wrapOpenAIErr(err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapOpenAIErr(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		text := resp.Choices[0].Delta.Content
		if text == "" {
			continue
		}
		b.WriteString(text)
		if err := cb(ctx, Chunk{Text: text}); err != nil {
			return nil, err
		}
	}
	return &core.Message{Role: core.RoleAssistant, Content: b.String()}, nil
}

func toOpenAIMessages(messages []core.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == core.RoleTool {
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// wrapOpenAIErr classifies provider failures so the retry loop can tell
// rate limits and 5xx apart from bad requests.
func wrapOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return core.Errorf(core.RESOURCE_EXHAUSTED, err, "openai_compatible: rate limited")
		case apiErr.HTTPStatusCode >= 500:
			return core.Errorf(core.UNAVAILABLE, err, "openai_compatible: server error")
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return core.Errorf(core.UNAUTHENTICATED, err, "openai_compatible: bad credentials")
		case apiErr.HTTPStatusCode >= 400:
			return core.Errorf(core.INVALID_ARGUMENT, err, "openai_compatible: bad request")
		}
	}
	if core.IsCancellation(err) {
		return core.FromContextErr(err)
	}
	return core.Errorf(core.UNAVAILABLE, err, "openai_compatible: request failed")
}
