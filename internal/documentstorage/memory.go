package documentstorage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// MemoryStorage is an in-process DocumentStorage backed by a map, used by
// cmd/server's single-node mode and by tests that don't want a live bucket.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: map[string][]byte{}}
}

func (m *MemoryStorage) WriteFile(_ context.Context, path ObjectPath, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[path.String()] = cp
	return nil
}

func (m *MemoryStorage) ReadFile(_ context.Context, path ObjectPath) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path.String()]
	if !ok {
		return nil, kmerr.New(kmerr.KindInput, "documentstorage.MemoryStorage.ReadFile",
			fmt.Errorf("object %s not found", path))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStorage) Exists(_ context.Context, path ObjectPath) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[path.String()]
	return ok, nil
}

func (m *MemoryStorage) ListDocuments(_ context.Context, index string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := index + "/"
	seen := map[string]bool{}
	var out []string
	for key := range m.objects {
		rest := strings.TrimPrefix(key, prefix)
		if rest == key {
			continue
		}
		documentID, _, ok := strings.Cut(rest, "/")
		if !ok || seen[documentID] {
			continue
		}
		seen[documentID] = true
		out = append(out, documentID)
	}
	return out, nil
}

func (m *MemoryStorage) DeleteDocument(_ context.Context, index, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("%s/%s/", index, documentID)
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
		}
	}
	return nil
}
