// Package session implements the CLASP per-connection session model: a
// bounded send queue with drop-and-notify backpressure, a per-session
// rate-limit window, and idle timeout tracking (spec §4.4, §3 "Session").
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rustyguts/clasp/internal/security"
)

// DefaultSendQueueSize matches spec §4.4's "bounded capacity (default 1000)".
const DefaultSendQueueSize = 1000

// dropWindow and dropThreshold implement the "drops in a rolling 10-second
// window exceed 100" overflow-notification rule.
const (
	dropWindow          = 10 * time.Second
	dropThreshold       = 100
	overflowNoticeEvery = 10 * time.Second
)

// Sender is anything a Session can hand an encoded frame to for delivery;
// the transport package supplies the concrete implementation.
type Sender interface {
	Send(frame []byte) error
	Close() error
}

// Session is one live client (or peer) connection post-handshake.
type Session struct {
	ID       string
	Name     string
	Features []string

	CreatedAt time.Time

	Authenticated bool
	Subject       string
	Scopes        security.ScopeSet

	sender Sender

	sendQueue chan []byte

	mu           sync.Mutex
	lastActivity time.Time

	limiter *rate.Limiter

	dropMu      sync.Mutex
	drops       []time.Time // timestamps within the last dropWindow
	lastNotice  time.Time

	closed atomic.Bool
}

// Config bounds the knobs a Session needs at construction time.
type Config struct {
	SendQueueSize   int
	MaxMsgsPerSec   int // 0 disables rate limiting
}

// New creates a Session bound to sender, with its activity clock starting
// at now. The caller is responsible for running Pump to drain sendQueue
// into sender.
func New(id, name string, features []string, sender Sender, cfg Config, now time.Time) *Session {
	qsize := cfg.SendQueueSize
	if qsize <= 0 {
		qsize = DefaultSendQueueSize
	}
	var limiter *rate.Limiter
	if cfg.MaxMsgsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxMsgsPerSec), cfg.MaxMsgsPerSec)
	}
	return &Session{
		ID:           id,
		Name:         name,
		Features:     features,
		CreatedAt:    now,
		lastActivity: now,
		sender:       sender,
		sendQueue:    make(chan []byte, qsize),
		limiter:      limiter,
	}
}

// Touch records inbound or outbound traffic for idle-timeout purposes.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// IdleSince reports how long it has been since the session last saw traffic.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// AllowMessage enforces the per-session rate-limit window. It reports false
// when the caller must emit ERROR 429 and drop the inbound message without
// disconnecting (spec §4.4).
func (s *Session) AllowMessage() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// TryDeliver enqueues frame for delivery without blocking. On a full queue
// it records a drop and returns false; the caller decides whether an
// overflow ERROR is due via NoticeDue.
func (s *Session) TryDeliver(frame []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.sendQueue <- frame:
		return true
	default:
		s.recordDrop()
		return false
	}
}

func (s *Session) recordDrop() {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	now := time.Now()
	s.drops = append(s.drops, now)
	s.drops = pruneOlderThan(s.drops, now, dropWindow)
}

// DropsInWindow returns the number of drops recorded in the trailing
// dropWindow.
func (s *Session) DropsInWindow(now time.Time) int {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.drops = pruneOlderThan(s.drops, now, dropWindow)
	return len(s.drops)
}

// OverflowNoticeDue reports whether drops have exceeded dropThreshold in the
// rolling window and at least overflowNoticeEvery has elapsed since the last
// notice; it records the notice as sent when true.
func (s *Session) OverflowNoticeDue(now time.Time) bool {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.drops = pruneOlderThan(s.drops, now, dropWindow)
	if len(s.drops) <= dropThreshold {
		return false
	}
	if now.Sub(s.lastNotice) < overflowNoticeEvery {
		return false
	}
	s.lastNotice = now
	return true
}

func pruneOlderThan(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cut := now.Add(-window)
	i := 0
	for i < len(ts) && ts[i].Before(cut) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time{}, ts[i:]...)
}

// Pump drains the send queue into the underlying sender until the queue is
// closed or sender.Send returns an error. Run it in its own goroutine per
// session.
func (s *Session) Pump() error {
	for frame := range s.sendQueue {
		if err := s.sender.Send(frame); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the session closed, stops accepting new deliveries, and closes
// the underlying sender. Safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.sendQueue)
	return s.sender.Close()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
