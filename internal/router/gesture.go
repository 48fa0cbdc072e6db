package router

import (
	"sync"
	"time"

	"github.com/rustyguts/clasp/internal/wire"
)

// gestureRegistry buffers the most recent "move" PUBLISH per gesture id and
// flushes at most one per coalesce tick (spec §4.4, "gesture_coalesce_ms").
// Gesture begin/end messages are never buffered.
type gestureRegistry struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[string]*wire.Publish // gesture id -> latest move
}

func newGestureRegistry(interval time.Duration) *gestureRegistry {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &gestureRegistry{interval: interval, pending: make(map[string]*wire.Publish)}
}

// offer buffers a move message, replacing any previously buffered move for
// the same gesture id. It returns true when the message was buffered
// (caller should not fan it out immediately).
func (g *gestureRegistry) offer(p *wire.Publish) bool {
	if p.GesturePhase != "move" || p.GestureID == "" {
		return false
	}
	g.mu.Lock()
	g.pending[p.GestureID] = p
	g.mu.Unlock()
	return true
}

// flushStale drains every buffered move for delivery.
func (g *gestureRegistry) flushStale() []*wire.Publish {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return nil
	}
	out := make([]*wire.Publish, 0, len(g.pending))
	for id, p := range g.pending {
		out = append(out, p)
		delete(g.pending, id)
	}
	return out
}
