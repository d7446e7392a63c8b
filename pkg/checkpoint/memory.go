package checkpoint

import (
	"context"
	"sync"
)

// Memory is a non-durable store for tests and single-shot runs.
type Memory struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{states: make(map[string]State)}
}

func (m *Memory) Load(ctx context.Context, sourceID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sourceID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *Memory) Save(ctx context.Context, sourceID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.states[sourceID]; ok && existing.LastCompletedPage > state.LastCompletedPage {
		return nil
	}
	m.states[sourceID] = state
	return nil
}

func (m *Memory) Clear(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sourceID)
	return nil
}
