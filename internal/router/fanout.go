package router

import (
	"time"

	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/subscription"
	"github.com/rustyguts/clasp/internal/wire"
)

// fanOutSet delivers a SET to every subscriber matching address, including
// the writer (spec §4.4: "a SET is delivered to every matching subscriber,
// including the writer").
func (r *Router) fanOutSet(address string, value wire.Value) {
	msg := &wire.Message{Type: wire.TypeSet, Set: &wire.Set{Address: address, Value: value}}
	entries := r.subscriptions.Match(address, "param")
	r.deliverToEntries(entries, encode(msg))
}

func (r *Router) deliverToEntries(entries []subscription.SubscriberEntry, frame []byte) {
	if frame == nil {
		return
	}
	targets := make([]*session.Session, 0, len(entries))
	for _, e := range entries {
		if s, ok := r.sessions.Get(string(e.SessionID)); ok {
			targets = append(targets, s)
		}
	}
	if len(targets) > r.cfg.ConcurrentBroadcastThreshold {
		go r.deliverNow(targets, frame)
		return
	}
	r.deliverNow(targets, frame)
}

func (r *Router) deliverNow(targets []*session.Session, frame []byte) {
	now := time.Now()
	for _, s := range targets {
		if !s.TryDeliver(frame) {
			if s.OverflowNoticeDue(now) {
				s.TryDeliver(encode(errorMessage(wire.ErrCodeBufferOverflow, "send queue overflow, messages are being dropped")))
			}
		}
	}
}

// fanOutPublish delivers a PUBLISH to every matching subscriber, excluding
// the publisher (spec §4.4).
func (r *Router) fanOutPublish(p *wire.Publish, publisher *session.Session) {
	msg := &wire.Message{Type: wire.TypePublish, Publish: p}
	entries := r.subscriptions.Match(p.Address, p.SignalType)
	frame := encode(msg)
	if frame == nil {
		return
	}
	targets := make([]*session.Session, 0, len(entries))
	for _, e := range entries {
		if publisher != nil && string(e.SessionID) == publisher.ID {
			continue
		}
		if s, ok := r.sessions.Get(string(e.SessionID)); ok {
			targets = append(targets, s)
		}
	}
	if len(targets) > r.cfg.ConcurrentBroadcastThreshold {
		go r.deliverNow(targets, frame)
		return
	}
	r.deliverNow(targets, frame)
}
