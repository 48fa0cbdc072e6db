// Package router implements the CLASP router core: handshake, per-session
// message dispatch, fan-out scheduling, and session lifecycle management
// (spec §4.4).
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rustyguts/clasp/internal/capability"
	"github.com/rustyguts/clasp/internal/security"
	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/state"
	"github.com/rustyguts/clasp/internal/subscription"
	"github.com/rustyguts/clasp/internal/wire"
)

// Receiver is the transport-agnostic read half of a connection; the
// transport package (ws.go, quic.go, webtransport.go) supplies it.
type Receiver interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Router is the CLASP router core, transport-agnostic by construction: it
// only ever deals in session.Sender/Receiver and encoded wire frames.
type Router struct {
	cfg Config

	sessions      *session.Registry
	subscriptions *subscription.Manager
	store         *state.Store

	validator       security.TokenValidator
	trustAnchors    capability.TrustAnchors
	writeValidator  WriteValidator
	snapshotFilter  SnapshotFilter
	rulesEngine     RulesEngine
	journal         Journal
	federation      FederationForwarder

	gestures *gestureRegistry

	running atomic.Bool
	wg      sync.WaitGroup
	log     *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{
		cfg:           cfg,
		sessions:      session.NewRegistry(),
		subscriptions: subscription.NewManager(),
		store:         state.New(cfg.StateConfig),
		log:           log,
	}
	if cfg.GestureCoalescing {
		r.gestures = newGestureRegistry(cfg.GestureCoalesceInterval)
	}
	return r
}

func (r *Router) SetValidator(v security.TokenValidator)     { r.validator = v }
func (r *Router) SetTrustAnchors(a capability.TrustAnchors)  { r.trustAnchors = a }
func (r *Router) SetWriteValidator(v WriteValidator)         { r.writeValidator = v }
func (r *Router) SetSnapshotFilter(f SnapshotFilter)         { r.snapshotFilter = f }
func (r *Router) SetRulesEngine(e RulesEngine)               { r.rulesEngine = e }
func (r *Router) SetJournal(j Journal)                       { r.journal = j }
func (r *Router) SetFederationForwarder(f FederationForwarder) { r.federation = f }

func (r *Router) SessionCount() int { return r.sessions.Len() }

// Sessions returns a snapshot of every currently-registered session, for the
// admin HTTP surface's /v1/sessions endpoint.
func (r *Router) Sessions() []*session.Session { return r.sessions.All() }

// ParamSnapshot returns the full live parameter table, for the admin HTTP
// surface's /v1/params endpoint.
func (r *Router) ParamSnapshot() map[string]state.ParamState { return r.store.Snapshot() }

// ParamCount reports the number of live addresses in the parameter store.
func (r *Router) ParamCount() int { return r.store.Len() }

// SubscriptionCount reports the number of live subscription entries across
// all sessions.
func (r *Router) SubscriptionCount() int { return r.subscriptions.Count() }

// Start launches the router's background maintenance tasks (idle-session
// sweep, TTL sweep, gesture flush). Call once before accepting connections.
func (r *Router) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	if r.cfg.SessionTimeout > 0 {
		r.wg.Add(1)
		go r.runIdleSweep(ctx)
	}
	r.wg.Add(1)
	go r.runTTLSweep(ctx)
	if r.gestures != nil {
		r.wg.Add(1)
		go r.runGestureFlush(ctx)
	}
	if r.rulesEngine != nil {
		for _, ivl := range r.rulesEngine.IntervalRules() {
			r.wg.Add(1)
			go r.runRuleInterval(ctx, ivl)
		}
	}
}

// Stop signals background tasks to exit and waits for them.
func (r *Router) Stop() {
	r.running.Store(false)
	r.wg.Wait()
}

func (r *Router) runIdleSweep(ctx context.Context) {
	defer r.wg.Done()
	interval := session.IdleTimeoutConfig{SessionTimeout: r.cfg.SessionTimeout}.CheckInterval()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if !r.running.Load() {
				return
			}
			for _, s := range r.sessions.SweepIdle(now, r.cfg.SessionTimeout) {
				r.log.Info("closing idle session", "session_id", s.ID, "name", s.Name)
				r.disconnect(s)
			}
		}
	}
}

func (r *Router) runTTLSweep(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !r.running.Load() {
				return
			}
			r.store.SweepTTL(time.Now().UnixMicro())
		}
	}
}

func (r *Router) runGestureFlush(ctx context.Context) {
	defer r.wg.Done()
	t := time.NewTicker(r.gestures.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !r.running.Load() {
				return
			}
			for _, pending := range r.gestures.flushStale() {
				r.fanOutPublish(pending, nil)
			}
		}
	}
}

func (r *Router) runRuleInterval(ctx context.Context, ivl IntervalRule) {
	defer r.wg.Done()
	if ivl.Seconds == 0 {
		return
	}
	t := time.NewTicker(time.Duration(ivl.Seconds) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if !r.running.Load() {
				return
			}
			for _, action := range r.rulesEngine.EvaluateInterval(ivl.RuleID, r.stateLookup, now) {
				r.applyRuleAction(action, now)
			}
		}
	}
}

// disconnect tears a session down: unregister, purge subscriptions, close
// the transport (spec §4.4 "Session lifecycle").
func (r *Router) disconnect(s *session.Session) {
	r.sessions.Unregister(s.ID)
	r.subscriptions.RemoveSession(subscription.SessionID(s.ID))
	_ = s.Close()
}

func newSessionID() string {
	return uuid.NewString()
}

// encode is a small helper so dispatch code reads uniformly.
func encode(m *wire.Message) []byte {
	b, err := wire.Encode(m)
	if err != nil {
		return nil
	}
	return b
}

func errorMessage(code int, format string, args ...any) *wire.Message {
	return &wire.Message{Type: wire.TypeError, Error: wire.NewError(code, format, args...)}
}

func errorMessageFor(code int, address, correlationID, format string, args ...any) *wire.Message {
	e := wire.NewError(code, format, args...)
	if address != "" {
		e = e.WithAddress(address)
	}
	if correlationID != "" {
		e = e.WithCorrelation(correlationID)
	}
	return &wire.Message{Type: wire.TypeError, Error: e}
}
