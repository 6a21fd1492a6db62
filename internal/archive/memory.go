package archive

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jobs/taskqueue/internal/biz/task"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps JSON copies so callers never share state with it.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, info *task.TaskInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[info.TaskID] = payload
	return nil
}

func (m *MemoryStore) Get(_ context.Context, taskID string) (*task.TaskInfo, error) {
	m.mu.RLock()
	payload, ok := m.items[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var info task.TaskInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
