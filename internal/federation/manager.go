package federation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rustyguts/clasp/internal/wire"
)

// Manager fans a local mutation out to every active peer link and satisfies
// router.FederationForwarder as a single collaborator, so the router need
// not know how many peers are configured (spec §4.8).
type Manager struct {
	mu    sync.RWMutex
	links map[string]*Link // keyed by peer router id
}

func NewManager() *Manager {
	return &Manager{links: make(map[string]*Link)}
}

// Add registers a link once its peer router id is known (after WELCOME).
func (m *Manager) Add(routerID string, l *Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[routerID] = l
}

func (m *Manager) Remove(routerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, routerID)
}

func (m *Manager) ForwardSet(address string, value wire.Value, revision uint64) {
	for _, l := range m.snapshot() {
		l.ForwardSet(address, value, revision)
	}
}

func (m *Manager) ForwardPublish(p *wire.Publish) {
	for _, l := range m.snapshot() {
		l.ForwardPublish(p)
	}
}

func (m *Manager) snapshot() []*Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// Backoff computes the reconnect delay for a peer that just failed its
// attempt'th consecutive attempt: exponential growth from base, capped at
// max, with +/-20% jitter so a fleet of links reconnecting at once doesn't
// thunder against the same peer (spec §5, "retry with exponential backoff").
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5 * 2)) - d/5
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}
