package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowllm-ai/flowllm/config"
)

// axisModel maps known texts onto fixed orthogonal-ish vectors so
// similarity ordering in tests is deterministic.
type axisModel struct {
	vectors map[string][]float32
}

func (m *axisModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func newAxisStore(t *testing.T, path string) Store {
	t.Helper()
	model := &axisModel{vectors: map[string][]float32{
		"apples":   {1, 0, 0},
		"oranges":  {0.9, 0.1, 0},
		"go build": {0, 1, 0},
		"fruit":    {1, 0.05, 0},
	}}
	s, err := newMemory(config.VectorStoreConfig{
		Backend: "memory",
		Params:  map[string]any{"path": path},
	}, model)
	require.NoError(t, err)
	return s
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := newAxisStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []Node{
		{ID: "a", Text: "apples"},
		{ID: "b", Text: "oranges"},
		{ID: "c", Text: "go build"},
	}))

	hits, err := s.Search(ctx, "fruit", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestDelete(t *testing.T) {
	s := newAxisStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []Node{{ID: "a", Text: "apples"}}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	hits, err := s.Search(ctx, "fruit", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestInsertAssignsIDs(t *testing.T) {
	s := newAxisStore(t, "")
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, []Node{{Text: "apples"}}))
	hits, err := s.Search(ctx, "fruit", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotEmpty(t, hits[0].ID)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.json")
	ctx := context.Background()

	s1 := newAxisStore(t, path)
	require.NoError(t, s1.Insert(ctx, []Node{{ID: "a", Text: "apples"}}))
	require.NoError(t, s1.Close())

	s2 := newAxisStore(t, path)
	hits, err := s2.Search(ctx, "fruit", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestResolveUnconfigured(t *testing.T) {
	_, err := Resolve("no_such_store")
	assert.Error(t, err)
}
