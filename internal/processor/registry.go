package processor

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry shares one Processor per session across concurrent callers.
// Concurrent GetOrCreate calls for the same session ID collapse onto a
// single construction via singleflight, matching spec.md's requirement
// that a session never ends up with two competing processors racing
// each other's step counters.
type Registry struct {
	maxSteps      int
	doomThreshold int

	group singleflight.Group

	mu         sync.Mutex
	processors map[string]*Processor
}

// NewRegistry constructs a Registry whose Processors default to
// maxSteps and doomThreshold when GetOrCreate sees a session for the
// first time.
func NewRegistry(maxSteps, doomThreshold int) *Registry {
	return &Registry{
		maxSteps:      maxSteps,
		doomThreshold: doomThreshold,
		processors:    make(map[string]*Processor),
	}
}

// GetOrCreate returns the Processor for sessionID, creating it if this
// is the first call for that session.
func (r *Registry) GetOrCreate(sessionID string) *Processor {
	r.mu.Lock()
	if p, ok := r.processors[sessionID]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	v, _, _ := r.group.Do(sessionID, func() (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.processors[sessionID]; ok {
			return p, nil
		}
		p := New(sessionID, r.maxSteps, r.doomThreshold)
		r.processors[sessionID] = p
		return p, nil
	})
	return v.(*Processor)
}

// Remove discards sessionID's Processor.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processors, sessionID)
}

// Get returns sessionID's Processor without creating one, reporting
// whether it existed.
func (r *Registry) Get(sessionID string) (*Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processors[sessionID]
	return p, ok
}
