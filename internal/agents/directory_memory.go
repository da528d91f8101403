package agents

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory useful for tests.
type MemoryDirectory struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryDirectory(agents ...Agent) *MemoryDirectory {
	d := &MemoryDirectory{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		d.agents[a.ID] = a
	}
	return d
}

func (d *MemoryDirectory) Put(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}
