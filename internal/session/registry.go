package session

import (
	"sync"
	"time"
)

// Registry is the concurrent session-id → Session map named in spec §4.4
// ("Session registry: concurrent map keyed by session id").
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot slice of every registered session, safe to range
// over after the registry lock is released.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// IdleTimeoutConfig bounds the idle-sweep cadence per spec §4.4: "the
// default check interval is session_timeout / 4, minimum 10 s".
type IdleTimeoutConfig struct {
	SessionTimeout time.Duration
}

// CheckInterval computes the idle-sweep cadence for cfg.
func (cfg IdleTimeoutConfig) CheckInterval() time.Duration {
	iv := cfg.SessionTimeout / 4
	if iv < 10*time.Second {
		iv = 10 * time.Second
	}
	return iv
}

// SweepIdle returns every session whose idle duration exceeds timeout, for
// the caller to disconnect and unregister. It does not mutate the registry
// itself — disconnect-and-unregister is the caller's responsibility so it
// can also purge the subscription trie and capability records (spec §4.4).
func (r *Registry) SweepIdle(now time.Time, timeout time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.IdleSince(now) > timeout {
			out = append(out, s)
		}
	}
	return out
}
