package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"canvasCollab/backend/internal/scene"
	"canvasCollab/backend/internal/share"
)

// MemorySnapshotStore 未配置 MySQL 时使用的进程内快照仓储
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	rows map[string]share.Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{rows: make(map[string]share.Snapshot)}
}

func (s *MemorySnapshotStore) Create(_ context.Context, snap *share.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[snap.ID]; ok {
		return ErrDuplicateSnapshot
	}
	s.rows[snap.ID] = *snap
	return nil
}

func (s *MemorySnapshotStore) Get(_ context.Context, id string) (*share.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, share.ErrSnapshotNotFound
	}
	return &row, nil
}

func (s *MemorySnapshotStore) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return share.ErrSnapshotNotFound
	}
	if row.RevokedAt == nil {
		row.RevokedAt = &at
		s.rows[id] = row
	}
	return nil
}

// MemorySceneStore 进程内场景存储，保存时复制一份防止调用方改动
type MemorySceneStore struct {
	mu     sync.RWMutex
	scenes map[string][]scene.Element
}

func NewMemorySceneStore() *MemorySceneStore {
	return &MemorySceneStore{scenes: make(map[string][]scene.Element)}
}

func (s *MemorySceneStore) LoadScene(_ context.Context, sceneID string) ([]scene.Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	elements, ok := s.scenes[sceneID]
	if !ok {
		return nil, scene.ErrNotFound
	}
	return cloneElements(elements), nil
}

func (s *MemorySceneStore) SaveScene(_ context.Context, sceneID string, elements []scene.Element) error {
	s.mu.Lock()
	s.scenes[sceneID] = cloneElements(elements)
	s.mu.Unlock()
	return nil
}

func (s *MemorySceneStore) DeleteScene(_ context.Context, sceneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenes[sceneID]; !ok {
		return scene.ErrNotFound
	}
	delete(s.scenes, sceneID)
	return nil
}

func cloneElements(elements []scene.Element) []scene.Element {
	out := slices.Clone(elements)
	if out == nil {
		out = []scene.Element{}
	}
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
