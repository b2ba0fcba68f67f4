package embedding

import (
	"context"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
)

func init() {
	Register("openai_compatible", newOpenAICompatible)
}

type openAICompatible struct {
	client *openai.Client
	model  string
}

func newOpenAICompatible(cfg config.EmbeddingConfig) (Model, error) {
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

func (c *openAICompatible) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		if core.IsCancellation(err) {
			return nil, core.FromContextErr(err)
		}
		return nil, core.Errorf(core.UNAVAILABLE, err, "openai_compatible: embedding request failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, core.NewError(core.INTERNAL,
			"openai_compatible: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, core.NewError(core.INTERNAL, "openai_compatible: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
