package embedding

import (
	"context"
	"crypto/sha256"

	"github.com/flowllm-ai/flowllm/config"
)

func init() {
	Register("mock", newMock)
}

// mockModel produces deterministic pseudo-embeddings from a hash of the
// text, so identical texts land on identical vectors and similarity
// ordering is stable across runs.
type mockModel struct {
	dims int
}

func newMock(cfg config.EmbeddingConfig) (Model, error) {
	dims := 16
	switch v := cfg.Params["dims"].(type) {
	case int:
		dims = v
	case float64:
		dims = int(v)
	}
	if dims <= 0 {
		dims = 16
	}
	return &mockModel{dims: dims}, nil
}

func (m *mockModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(text))
		vec := make([]float32, m.dims)
		for j := range vec {
			vec[j] = float32(sum[j%len(sum)])/255 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}
