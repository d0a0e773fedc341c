package dedupe

import (
	"context"
	"sync"
)

// MemIndex is an in-memory Index used in tests in place of Redis.
type MemIndex struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// NewMemIndex returns an empty in-memory dedup index.
func NewMemIndex() *MemIndex {
	return &MemIndex{seen: make(map[string]map[string]struct{})}
}

func (m *MemIndex) SeenBefore(ctx context.Context, jobID, identity string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.seen[jobID]
	if !ok {
		set = make(map[string]struct{})
		m.seen[jobID] = set
	}
	_, dup := set[identity]
	set[identity] = struct{}{}
	return dup, nil
}

func (m *MemIndex) Clear(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, jobID)
	return nil
}
