package broadcast

import (
	"context"
	"sync"
)

// Channel is a push handle for one connected client. Implementations must be
// comparable (pointer types) since identity is reference equality.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
}

type Registry struct {
	mu      sync.Mutex
	order   []Channel
	members map[Channel]struct{}
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[Channel]struct{})}
}

// Add registers ch. It reports false when ch was already registered.
func (r *Registry) Add(ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[ch]; ok {
		return false
	}
	r.members[ch] = struct{}{}
	r.order = append(r.order, ch)
	return true
}

// Remove unregisters ch. It reports false when ch was not registered.
func (r *Registry) Remove(ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[ch]; !ok {
		return false
	}
	delete(r.members, ch)
	for i, c := range r.order {
		if c == ch {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns a copy of the registered channels in insertion order.
func (r *Registry) Snapshot() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Channel, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
