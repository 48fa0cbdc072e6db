package router

import (
	"context"
	"errors"
	"time"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/security"
	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/state"
	"github.com/rustyguts/clasp/internal/subscription"
	"github.com/rustyguts/clasp/internal/wire"
)

// dispatchLoop is the single-consumer read loop for one session's incoming
// stream (spec §4.4, "Message dispatch").
func (r *Router) dispatchLoop(ctx context.Context, sess *session.Session, recv Receiver) {
	for {
		raw, err := recv.Recv(ctx)
		if err != nil {
			return
		}
		sess.Touch(time.Now())

		msg, err := wire.Decode(raw, wire.DefaultMaxFrameSize)
		if err != nil {
			r.log.Debug("dropping malformed frame", "session_id", sess.ID, "err", err)
			continue
		}
		r.handle(sess, msg)
	}
}

// handle routes one decoded message by type, enforcing the rate-limit
// window first (spec §4.4).
func (r *Router) handle(sess *session.Session, msg *wire.Message) {
	if !sess.AllowMessage() {
		sess.TryDeliver(encode(errorMessage(wire.ErrCodeRateLimited, "rate limit exceeded")))
		return
	}

	switch msg.Type {
	case wire.TypeSubscribe:
		r.handleSubscribe(sess, msg.Subscribe)
	case wire.TypeUnsubscribe:
		r.handleUnsubscribe(sess, msg.Unsubscribe)
	case wire.TypeSet:
		r.handleSet(sess, msg.Set)
	case wire.TypeGet:
		r.handleGet(sess, msg.Get)
	case wire.TypePublish:
		r.handlePublish(sess, msg.Publish)
	case wire.TypeBundle:
		r.handleBundle(sess, msg.Bundle)
	case wire.TypeQuery:
		r.handleQuery(sess, msg.Query)
	case wire.TypeReplay:
		r.handleReplay(sess, msg.Replay)
	case wire.TypeFederationSync:
		r.handleFederationSync(sess, msg.FederationSync)
	case wire.TypePing:
		sess.TryDeliver(encode(&wire.Message{Type: wire.TypePong}))
	case wire.TypeHello:
		// a second HELLO after handshake is a protocol error, not fatal.
		sess.TryDeliver(encode(errorMessage(wire.ErrCodeProtocol, "unexpected HELLO after handshake")))
	default:
		sess.TryDeliver(encode(errorMessage(wire.ErrCodeProtocol, "unsupported message type %s", msg.Type)))
	}
}

func (r *Router) handleSubscribe(sess *session.Session, sub *wire.Subscribe) {
	pattern := address.Compile(sub.Pattern)
	if sess.Authenticated && !sess.Scopes.AllowsStrictRead(sub.Pattern) {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAuthForbidden, sub.Pattern, "", "subscription not permitted for this scope")))
		return
	}
	if r.cfg.MaxSubscriptionsPerSession > 0 && r.subscriptions.Count() >= r.cfg.MaxSubscriptionsPerSession {
		sess.TryDeliver(encode(errorMessage(wire.ErrCodeAtCapacity, "max subscriptions per session exceeded")))
		return
	}

	typeFilter := make(map[string]struct{}, len(sub.Types))
	for _, t := range sub.Types {
		typeFilter[t] = struct{}{}
	}
	entry := subscription.SubscriberEntry{
		SessionID:  subscription.SessionID(sess.ID),
		SubID:      sub.SubID,
		TypeFilter: typeFilter,
	}
	if pattern.HasPartialWildcard() {
		entry.VerifyPattern = pattern
	}
	r.subscriptions.Insert(pattern, entry)

	rows := r.matchingRows(pattern)
	if r.snapshotFilter != nil {
		rows = r.snapshotFilter.FilterSnapshot(rows, sess)
	}
	r.deliverSnapshot(sess, rows)
}

func (r *Router) matchingRows(pattern *address.Pattern) []wire.ParamEntry {
	all := r.store.Snapshot()
	out := make([]wire.ParamEntry, 0)
	for addr, ps := range all {
		if !pattern.Matches(addr) {
			continue
		}
		v, ok := ps.Value.(wire.Value)
		if !ok {
			continue
		}
		out = append(out, wire.ParamEntry{Address: addr, Value: v, Revision: ps.Revision, Writer: ps.Writer, TimestampUs: ps.TimestampUs})
	}
	return out
}

func (r *Router) handleUnsubscribe(sess *session.Session, u *wire.Unsubscribe) {
	r.subscriptions.Remove(subscription.SessionID(sess.ID), u.SubID)
}

func (r *Router) handleSet(sess *session.Session, s *wire.Set) {
	if sess.Authenticated && !sess.Scopes.Allows(security.ActionWrite, s.Address) {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAuthForbidden, s.Address, "", "write not permitted for this scope")))
		return
	}
	if r.writeValidator != nil {
		if err := r.writeValidator.ValidateWrite(s.Address, s.Value, sess); err != nil {
			sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAuthForbidden, s.Address, "", "write rejected: %v", err)))
			return
		}
	}

	now := time.Now()
	ps, err := r.store.TryUpdate(s.Address, s.Value, sess.ID, s.ExpectedRevision, s.Lock, s.Unlock, state.LWW, nil, "", now.UnixMicro())
	if err != nil {
		r.sendUpdateError(sess, s.Address, err)
		return
	}

	if v, ok := ps.Value.(wire.Value); ok {
		r.fanOutSet(s.Address, v)
	}

	r.runRules(s.Address, s.Value, "param", "", now)

	if r.federation != nil {
		r.federation.ForwardSet(s.Address, s.Value, ps.Revision)
	}
}

// ApplyRemoteSet applies a SET received from a federation peer directly to
// local state, tagged with the peer's router id as writer/origin so it is
// never re-forwarded back to that peer (spec §4.8 step 4). It bypasses
// handleSet's scope/validator checks, since a federation link is trusted at
// the transport layer, not per-session.
func (r *Router) ApplyRemoteSet(address string, value wire.Value, origin string) {
	now := time.Now()
	ps, err := r.store.TryUpdate(address, value, origin, nil, false, false, state.LWW, nil, origin, now.UnixMicro())
	if err != nil {
		return
	}
	if v, ok := ps.Value.(wire.Value); ok {
		r.fanOutSet(address, v)
	}
	r.runRules(address, value, "param", "", now)
}

// ApplyRemotePublish fans a PUBLISH received from a federation peer out to
// local subscribers without re-forwarding it.
func (r *Router) ApplyRemotePublish(p *wire.Publish) {
	r.fanOutPublish(p, nil)
}

// stateLookup backs the rules engine's condition evaluation against the
// live parameter store.
func (r *Router) stateLookup(address string) (wire.Value, bool) {
	ps, ok := r.store.Get(address, time.Now().UnixMicro())
	if !ok {
		return wire.Value{}, false
	}
	v, ok := ps.Value.(wire.Value)
	return v, ok
}

// runRules invokes the optional rules engine for one mutation and applies
// every resulting action (spec §4.4 "invoke the rules engine", §4.7).
func (r *Router) runRules(address string, value wire.Value, signalType, origin string, now time.Time) {
	if r.rulesEngine == nil {
		return
	}
	for _, action := range r.rulesEngine.Evaluate(address, value, signalType, origin, r.stateLookup, now) {
		r.applyRuleAction(action, now)
	}
}

func (r *Router) sendUpdateError(sess *session.Session, address string, err error) {
	var ue *state.UpdateError
	if !errors.As(err, &ue) {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeServer, address, "", "%v", err)))
		return
	}
	switch ue.Code {
	case state.ErrRevisionConflict:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeRevisionConflict, address, "", "revision conflict, actual=%d", ue.Actual)))
	case state.ErrLockHeld:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeLockHeld, address, "", "locked by %s", ue.Holder)))
	case state.ErrConflictRejected:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeConflictRejected, address, "", "update rejected by strategy")))
	case state.ErrAtCapacity:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAtCapacity, address, "", "store at capacity")))
	case state.ErrRangeViolation:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeValueRange, address, "", "value outside configured range")))
	default:
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeServer, address, "", "update rejected")))
	}
}

func (r *Router) applyRuleAction(action RuleAction, now time.Time) {
	if action.Delay > 0 {
		then := action.Then
		time.AfterFunc(action.Delay, func() {
			if then != nil {
				r.applyRuleAction(*then, time.Now())
			}
		})
		return
	}
	if action.Publish {
		r.fanOutPublish(&wire.Publish{Address: action.Address, SignalType: action.SignalType, Value: action.Value}, nil)
		return
	}
	ps, err := r.store.TryUpdate(action.Address, action.Value, "rule:"+action.RuleID, nil, false, false, state.LWW, nil, "rule:"+action.RuleID, now.UnixMicro())
	if err == nil {
		if v, ok := ps.Value.(wire.Value); ok {
			r.fanOutSet(action.Address, v)
		}
	}
}

func (r *Router) handleGet(sess *session.Session, g *wire.Get) {
	pattern := address.Compile(g.Pattern)
	rows := r.matchingRows(pattern)
	r.deliverSnapshot(sess, rows)
}

func (r *Router) handlePublish(sess *session.Session, p *wire.Publish) {
	if sess.Authenticated && !sess.Scopes.Allows(security.ActionWrite, p.Address) {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAuthForbidden, p.Address, "", "publish not permitted for this scope")))
		return
	}
	if r.writeValidator != nil {
		if err := r.writeValidator.ValidateWrite(p.Address, p.Value, sess); err != nil {
			sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeAuthForbidden, p.Address, "", "publish rejected: %v", err)))
			return
		}
	}
	if r.gestures != nil && r.gestures.offer(p) {
		return
	}
	r.fanOutPublish(p, sess)
	signalType := p.SignalType
	if signalType == "" {
		signalType = "event"
	}
	r.runRules(p.Address, p.Value, signalType, "", time.Now())

	if r.federation != nil {
		r.federation.ForwardPublish(p)
	}
}

func (r *Router) handleBundle(sess *session.Session, b *wire.Bundle) {
	if b == nil {
		return
	}
	for _, frame := range b.Frames {
		inner, err := wire.Decode(frame, wire.DefaultMaxFrameSize)
		if err != nil {
			continue
		}
		r.handle(sess, inner)
	}
}

func (r *Router) handleQuery(sess *session.Session, q *wire.Query) {
	pattern := address.Compile(q.Pattern)
	all := r.store.Snapshot()
	rows := make([]wire.ResultRow, 0)
	for addr, ps := range all {
		if !pattern.Matches(addr) {
			continue
		}
		v, ok := ps.Value.(wire.Value)
		if !ok {
			continue
		}
		rows = append(rows, wire.ResultRow{Address: addr, Fields: map[string]wire.Value{"value": v}})
	}
	sess.TryDeliver(encode(&wire.Message{Type: wire.TypeResult, Result: &wire.Result{Pattern: q.Pattern, Rows: rows}}))
}

// handleFederationSync answers an inbound peer's FEDERATION_SYNC, the
// passive side of spec §4.8's handshake: a peer connects to us as an
// ordinary session and drives namespace declaration/sync itself.
func (r *Router) handleFederationSync(sess *session.Session, msg *wire.FederationSync) {
	if msg == nil {
		return
	}
	switch msg.Op {
	case wire.FedOpDeclareNamespaces:
		accepted := make([]string, 0, len(msg.Patterns))
		for _, pattern := range msg.Patterns {
			if r.permitsFederationNamespace(pattern) {
				accepted = append(accepted, pattern)
				r.subscribeSessionToPattern(sess, pattern)
			}
		}
		if len(r.cfg.FederationOwnedNamespaces) > 0 {
			sess.TryDeliver(encode(&wire.Message{Type: wire.TypeFederationSync, FederationSync: &wire.FederationSync{
				Op:       wire.FedOpDeclareNamespaces,
				RouterID: r.cfg.RouterID,
				Patterns: r.cfg.FederationOwnedNamespaces,
			}}))
		}
	case wire.FedOpRequestSync:
		for _, pattern := range msg.Patterns {
			pat := address.Compile(pattern)
			rows := r.matchingRows(pat)
			r.deliverSnapshot(sess, rows)
			sess.TryDeliver(encode(&wire.Message{Type: wire.TypeFederationSync, FederationSync: &wire.FederationSync{
				Op:            wire.FedOpSyncComplete,
				RouterID:      r.cfg.RouterID,
				Patterns:      []string{pattern},
				SinceRevision: maxRevision(rows),
			}}))
		}
	case wire.FedOpRevisionVector, wire.FedOpSyncComplete:
		// No local action: we serve sync requests synchronously and do not
		// maintain our own pull-side revision vector against an inbound peer.
	}
}

func (r *Router) permitsFederationNamespace(pattern string) bool {
	if len(r.cfg.FederationPermitNamespaces) == 0 {
		return true
	}
	for _, permit := range r.cfg.FederationPermitNamespaces {
		if address.CoveredByStrings(pattern, permit) {
			return true
		}
	}
	return false
}

func (r *Router) subscribeSessionToPattern(sess *session.Session, pattern string) {
	pat := address.Compile(pattern)
	entry := subscription.SubscriberEntry{SessionID: subscription.SessionID(sess.ID), SubID: 0}
	if pat.HasPartialWildcard() {
		entry.VerifyPattern = pat
	}
	r.subscriptions.Insert(pat, entry)
}

func maxRevision(rows []wire.ParamEntry) *uint64 {
	var max uint64
	for _, row := range rows {
		if row.Revision > max {
			max = row.Revision
		}
	}
	return &max
}

func (r *Router) handleReplay(sess *session.Session, rep *wire.Replay) {
	if r.journal == nil {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeServer, rep.Pattern, "", "no journal collaborator configured")))
		return
	}
	entries, err := r.journal.Replay(rep.Pattern, time.UnixMicro(rep.FromUs), time.UnixMicro(rep.ToUs), int(rep.Limit), rep.SignalType)
	if err != nil {
		sess.TryDeliver(encode(errorMessageFor(wire.ErrCodeServer, rep.Pattern, "", "replay failed: %v", err)))
		return
	}
	rows := make([]wire.ParamEntry, 0, len(entries))
	for _, e := range entries {
		rev := uint64(0)
		if e.Revision != nil {
			rev = *e.Revision
		}
		rows = append(rows, wire.ParamEntry{Address: e.Address, Value: e.Value, Revision: rev, Writer: e.Author, TimestampUs: e.Timestamp.UnixMicro()})
	}
	r.deliverSnapshot(sess, rows)
}
