package queue

import (
	"context"
	"fmt"
	"sync"

	"pmworker/internal/pmworker"
)

// Memory is a process-local queue, used in tests and for ephemeral hosts.
type Memory struct {
	mu      sync.RWMutex
	actions []pmworker.OfflineAction
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Enqueue(_ context.Context, a pmworker.OfflineAction) (string, error) {
	a, err := prepare(a)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.actions {
		if cur.ID == a.ID {
			return "", fmt.Errorf("offline action %s already queued", a.ID)
		}
	}
	m.actions = append(m.actions, a)
	return a.ID, nil
}

func (m *Memory) List(context.Context) ([]pmworker.OfflineAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]pmworker.OfflineAction(nil), m.actions...), nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.actions {
		if a.ID == id {
			m.actions = append(m.actions[:i], m.actions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
}

func (m *Memory) RecordFailure(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.actions {
		if m.actions[i].ID == id {
			m.actions[i].Attempts++
			return m.actions[i].Attempts, nil
		}
	}
	return 0, fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
}

func (m *Memory) Close() error { return nil }
