package favorites

import (
	"context"
	"sort"
	"sync"
)

// Membership stores per-user sets of station ids.
type Membership interface {
	Contains(ctx context.Context, userID, stationID string) (bool, error)
	Add(ctx context.Context, userID, stationID string) error
	Remove(ctx context.Context, userID, stationID string) error
	Members(ctx context.Context, userID string) ([]string, error)
	Clear(ctx context.Context, userID string) error
}

// RecentList stores a bounded most-recent-first list per user.
type RecentList interface {
	Push(ctx context.Context, userID, stationID string, limit int) error
	List(ctx context.Context, userID string) ([]string, error)
	Clear(ctx context.Context, userID string) error
}

type MemorySet struct {
	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

func NewMemorySet() *MemorySet {
	return &MemorySet{sets: make(map[string]map[string]struct{})}
}

func (m *MemorySet) Contains(_ context.Context, userID, stationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sets[userID][stationID]
	return ok, nil
}

func (m *MemorySet) Add(_ context.Context, userID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[userID] == nil {
		m.sets[userID] = make(map[string]struct{})
	}
	m.sets[userID][stationID] = struct{}{}
	return nil
}

func (m *MemorySet) Remove(_ context.Context, userID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[userID], stationID)
	return nil
}

func (m *MemorySet) Members(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[userID]))
	for id := range m.sets[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemorySet) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, userID)
	return nil
}

type MemoryRecent struct {
	mu    sync.Mutex
	lists map[string][]string
}

func NewMemoryRecent() *MemoryRecent {
	return &MemoryRecent{lists: make(map[string][]string)}
}

func (m *MemoryRecent) Push(_ context.Context, userID, stationID string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.lists[userID]
	next := make([]string, 0, len(cur)+1)
	next = append(next, stationID)
	for _, id := range cur {
		if id != stationID {
			next = append(next, id)
		}
	}
	if limit > 0 && len(next) > limit {
		next = next[:limit]
	}
	m.lists[userID] = next
	return nil
}

func (m *MemoryRecent) List(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[userID]...), nil
}

func (m *MemoryRecent) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, userID)
	return nil
}
