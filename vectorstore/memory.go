package vectorstore

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/flowllm-ai/flowllm/config"
	"github.com/flowllm-ai/flowllm/core"
	"github.com/flowllm-ai/flowllm/embedding"
)

func init() {
	Register("memory", newMemory)
}

// memoryStore keeps nodes in a map and ranks searches by cosine
// similarity. With a "path" param it snapshots the node set to a JSON file
// on every mutation and reloads it on construction.
type memoryStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	model embedding.Model
	path  string
}

func newMemory(cfg config.VectorStoreConfig, model embedding.Model) (Store, error) {
	path, _ := cfg.Params["path"].(string)
	s := &memoryStore{
		nodes: map[string]Node{},
		model: model,
		path:  path,
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *memoryStore) Insert(ctx context.Context, nodes []Node) error {
	texts := make([]string, 0, len(nodes))
	missing := make([]int, 0, len(nodes))
	for i, n := range nodes {
		if len(n.Vector) == 0 {
			texts = append(texts, n.Text)
			missing = append(missing, i)
		}
	}
	if len(texts) > 0 {
		vectors, err := s.model.Embed(ctx, texts)
		if err != nil {
			return err
		}
		for j, i := range missing {
			nodes[i].Vector = vectors[j]
		}
	}

	s.mu.Lock()
	for _, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		s.nodes[n.ID] = n
	}
	s.mu.Unlock()
	return s.persist()
}

func (s *memoryStore) Search(ctx context.Context, query string, topK int) ([]ScoredNode, error) {
	if topK <= 0 {
		topK = 10
	}
	vectors, err := s.model.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	q := vectors[0]

	s.mu.RLock()
	hits := make([]ScoredNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		hits = append(hits, ScoredNode{Node: n, Score: cosine(q, n.Vector)})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *memoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.nodes, id)
	}
	s.mu.Unlock()
	return s.persist()
}

func (s *memoryStore) Close() error {
	return s.persist()
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *memoryStore) load() error {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return core.Errorf(core.INTERNAL, err, "vectorstore: cannot read %s", s.path)
	}
	var nodes []Node
	if err := json.Unmarshal(b, &nodes); err != nil {
		return core.Errorf(core.DATA_LOSS, err, "vectorstore: cannot decode %s", s.path)
	}
	s.mu.Lock()
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) persist() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	nodes := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	b, err := json.Marshal(nodes)
	if err != nil {
		return core.Errorf(core.INTERNAL, err, "vectorstore: cannot encode nodes")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return core.Errorf(core.INTERNAL, err, "vectorstore: cannot write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return core.Errorf(core.INTERNAL, err, "vectorstore: cannot publish %s", s.path)
	}
	return nil
}
