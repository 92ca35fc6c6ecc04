package service

import (
	"context"
	"github.com/google/uuid"
	"sync"
	"time"
)

// Handle identifies a running transcription worker.
type Handle struct {
	SessionID uuid.UUID
	StartedAt time.Time
	done      chan struct{}
}

// Done is closed once the worker has fully stopped and left the registry.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type workerEntry struct {
	handle *Handle
	cancel context.CancelFunc
	once   sync.Once
}

// Registry maps session ids to their single running worker. Once cancelAll
// has run it refuses new reservations.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*workerEntry
	closing bool
	// idle is closed whenever entries is empty.
	idle chan struct{}
}

func NewRegistry() *Registry {
	idle := make(chan struct{})
	close(idle)
	return &Registry{
		entries: make(map[uuid.UUID]*workerEntry),
		idle:    idle,
	}
}

// reserve claims the slot for sessionID. When the slot is taken the current
// entry is returned with ok=false; a closing registry returns nil, false.
func (r *Registry) reserve(sessionID uuid.UUID, entry *workerEntry) (current *workerEntry, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil, false
	}
	if cur, exists := r.entries[sessionID]; exists {
		return cur, false
	}
	if len(r.entries) == 0 {
		r.idle = make(chan struct{})
	}
	r.entries[sessionID] = entry
	return entry, true
}

func (r *Registry) lookup(sessionID uuid.UUID) (*workerEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[sessionID]
	return entry, ok
}

func (r *Registry) release(sessionID uuid.UUID, entry *workerEntry) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.entries[sessionID] == entry {
			delete(r.entries, sessionID)
			if len(r.entries) == 0 {
				close(r.idle)
			}
		}
		r.mu.Unlock()
		close(entry.handle.done)
	})
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) SessionIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// cancelAll closes the registry and cancels every worker in it.
func (r *Registry) cancelAll() int {
	r.mu.Lock()
	r.closing = true
	cancels := make([]context.CancelFunc, 0, len(r.entries))
	for _, entry := range r.entries {
		cancels = append(cancels, entry.cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait blocks until the registry is empty or ctx is done.
func (r *Registry) Wait(ctx context.Context) bool {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}
