// Package cache stores op outputs keyed by a fingerprint of the op short
// name and its cache-affecting inputs. Entries expire by wall time; expired
// entries are treated as absent and writes overwrite. Within one process a
// singleflight group guarantees at-most-once concurrent build per
// fingerprint; cross-process deduplication is out of scope.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flowllm-ai/flowllm/core"
)

// Fingerprint derives the cache key for an op invocation from the op short
// name and its cache-affecting inputs. Keys are hashed over a canonical
// (sorted-key) JSON encoding so that map iteration order cannot split
// identical inputs across entries.
func Fingerprint(shortName string, inputs map[string]any) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(shortName))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		b, err := json.Marshal(inputs[k])
		if err != nil {
			b = []byte("?" + k)
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildFunc produces a value on cache miss. The second return reports
// whether the value is cacheable; default-fallback outputs are not.
type BuildFunc func(ctx context.Context) (map[string]any, bool, error)

// Store is the cache contract the op runtime consumes.
type Store interface {
	Get(key string) (map[string]any, bool)
	Put(key string, value map[string]any, expire time.Duration)
	// GetOrBuild returns a live entry or builds one, deduplicating
	// concurrent builds of the same key. The bool result reports whether
	// the value came from cache (including a build shared with a
	// concurrent duplicate).
	GetOrBuild(ctx context.Context, key string, expire time.Duration, build BuildFunc) (map[string]any, bool, error)
}

type entry struct {
	value     map[string]any
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Memory is an in-process Store with optional file persistence (see
// WithDir in file.go).
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	dir     string
	sf      singleflight.Group
	now     func() time.Time
}

// Option configures a Memory store.
type Option func(*Memory)

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: map[string]entry{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(key string) (map[string]any, bool) {
	now := m.now()
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && e.live(now) {
		return e.value, true
	}
	if ok {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
	}
	if m.dir != "" {
		return m.loadFile(key, now)
	}
	return nil, false
}

func (m *Memory) Put(key string, value map[string]any, expire time.Duration) {
	e := entry{value: value}
	if expire > 0 {
		e.expiresAt = m.now().Add(expire)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	if m.dir != "" {
		m.saveFile(key, e)
	}
}

func (m *Memory) GetOrBuild(ctx context.Context, key string, expire time.Duration, build BuildFunc) (map[string]any, bool, error) {
	if value, ok := m.Get(key); ok {
		return value, true, nil
	}
	out, err, shared := m.sf.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent build may have landed
		// between the fast path and Do.
		if value, ok := m.Get(key); ok {
			return value, nil
		}
		value, cacheable, err := build(ctx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			m.Put(key, value, expire)
		}
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	value, ok := out.(map[string]any)
	if !ok && out != nil {
		return nil, false, core.NewError(core.INTERNAL, "cache: unexpected value type %T", out)
	}
	return value, shared, nil
}

var (
	storesMu sync.Mutex
	stores   = map[string]*Memory{}
)

// ForDir returns the process-wide store persisted under dir, creating it on
// first use. Ops configured with the same cache directory share one store,
// which is what makes the at-most-once build guarantee hold across op
// copies. dir == "" returns a shared purely in-memory store.
func ForDir(dir string) *Memory {
	storesMu.Lock()
	defer storesMu.Unlock()
	if s, ok := stores[dir]; ok {
		return s
	}
	var s *Memory
	if dir == "" {
		s = NewMemory()
	} else {
		s = NewMemory(WithDir(dir))
	}
	stores[dir] = s
	return s
}
