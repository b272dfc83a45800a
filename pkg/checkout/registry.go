package checkout

import (
	"context"
	"sync"
	"time"
)

// Registry indexes the open sessions by id. Closed sessions remove
// themselves.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session until it is closed
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.sessions[s.ID()] == s {
			delete(r.sessions, s.ID())
		}
	}()
}

// Get returns an open session
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the open sessions
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll closes every open session
func (r *Registry) CloseAll() {
	for _, s := range r.Sessions() {
		s.Close()
	}
}

// CloseIdle closes sessions untouched since cutoff. Sessions with a
// processing route are left open. It returns how many were closed.
func (r *Registry) CloseIdle(cutoff time.Time) int {
	closed := 0
	for _, s := range r.Sessions() {
		if s.IsProcessing() || s.LastActive().After(cutoff) {
			continue
		}
		s.Close()
		closed++
	}
	return closed
}

// Run closes sessions idle for longer than idle every interval until ctx
// is cancelled
func (r *Registry) Run(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.CloseIdle(now.Add(-idle))
		}
	}
}
