package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps audit events in process. Used by tests.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event

	// Err, when set, is returned by Append without recording.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of every recorded event in append order.
func (r *MemoryRepo) Events() []Event {
	return r.Where(func(Event) bool { return true })
}

// Where returns the recorded events matching keep, in append order.
func (r *MemoryRepo) Where(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ForResource returns the events recorded against one channel instance.
func (r *MemoryRepo) ForResource(instance string) []Event {
	return r.Where(func(e Event) bool { return e.ResourceID == instance })
}
