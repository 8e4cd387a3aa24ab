package versions

import (
	"context"
	"sort"
	"sync"
)

type MemoryBackend struct {
	mu    sync.Mutex
	pages map[string][]Snapshot
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{pages: make(map[string][]Snapshot)}
}

func (m *MemoryBackend) Append(_ context.Context, pageID string, snap Snapshot, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.pages[pageID]
	var last int64
	if len(items) > 0 {
		last = items[len(items)-1].VersionID
	}
	snap.VersionID = nextID(snap.VersionID, last)
	items = append(items, snap)
	if keep > 0 && len(items) > keep {
		items = append([]Snapshot(nil), items[len(items)-keep:]...)
	}
	m.pages[pageID] = items
	return snap.VersionID, nil
}

func (m *MemoryBackend) List(_ context.Context, pageID string) ([]Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := append([]Snapshot(nil), m.pages[pageID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].VersionID > items[j].VersionID })
	return items, nil
}

func (m *MemoryBackend) Get(_ context.Context, pageID string, versionID int64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range m.pages[pageID] {
		if snap.VersionID == versionID {
			return snap, nil
		}
	}
	return Snapshot{}, ErrVersionNotFound
}
