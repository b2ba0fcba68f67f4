package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// fileEntry is the on-disk shape of one cache entry. ExpiresAt is zero for
// entries without a TTL.
type fileEntry struct {
	Value     map[string]any `json:"value"`
	ExpiresAt time.Time      `json:"expires_at,omitzero"`
}

// WithDir persists entries as one JSON file per fingerprint under dir, so a
// restarted process sees still-live entries. Persistence is best effort; a
// failed write is logged and the in-memory entry stands.
func WithDir(dir string) Option {
	return func(m *Memory) {
		m.dir = dir
	}
}

func (m *Memory) path(key string) string {
	return filepath.Join(m.dir, key+".json")
}

func (m *Memory) loadFile(key string, now time.Time) (map[string]any, bool) {
	b, err := os.ReadFile(m.path(key))
	if err != nil {
		return nil, false
	}
	var fe fileEntry
	if err := json.Unmarshal(b, &fe); err != nil {
		slog.Warn("cache: dropping unreadable entry", "path", m.path(key), "error", err)
		_ = os.Remove(m.path(key))
		return nil, false
	}
	e := entry{value: fe.Value, expiresAt: fe.ExpiresAt}
	if !e.live(now) {
		_ = os.Remove(m.path(key))
		return nil, false
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return e.value, true
}

func (m *Memory) saveFile(key string, e entry) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		slog.Warn("cache: cannot create cache dir", "dir", m.dir, "error", err)
		return
	}
	b, err := json.Marshal(fileEntry{Value: e.value, ExpiresAt: e.expiresAt})
	if err != nil {
		slog.Warn("cache: cannot encode entry", "key", key, "error", err)
		return
	}
	tmp := m.path(key) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		slog.Warn("cache: cannot write entry", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, m.path(key)); err != nil {
		slog.Warn("cache: cannot publish entry", "path", m.path(key), "error", err)
	}
}
