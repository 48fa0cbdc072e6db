package router

import (
	"context"
	"errors"
	"time"

	"github.com/rustyguts/clasp/internal/capability"
	"github.com/rustyguts/clasp/internal/security"
	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/wire"
)

// HandleConnection runs the full lifecycle of one transport connection:
// handshake, snapshot delivery, dispatch loop, and teardown (spec §4.4). It
// blocks until the connection ends.
func (r *Router) HandleConnection(ctx context.Context, sender session.Sender, recv Receiver, remoteAddr string) {
	hsCtx, cancel := context.WithTimeout(ctx, r.cfg.HandshakeTimeout)
	raw, err := recv.Recv(hsCtx)
	cancel()
	if err != nil {
		r.log.Debug("handshake: no frame received", "remote_addr", remoteAddr, "err", err)
		_ = sender.Close()
		return
	}

	msg, err := wire.Decode(raw, wire.DefaultMaxFrameSize)
	if err != nil || msg.Type != wire.TypeHello || msg.Hello == nil {
		r.log.Warn("handshake: first frame was not HELLO", "remote_addr", remoteAddr)
		_ = sender.Close()
		return
	}

	if r.sessions.Len() >= r.cfg.MaxSessions {
		r.log.Warn("rejecting connection: max sessions reached", "remote_addr", remoteAddr, "max", r.cfg.MaxSessions)
		_ = sender.Close()
		return
	}

	sess, ok := r.authenticate(sender, msg.Hello)
	if !ok {
		return
	}

	r.sessions.Register(sess)
	go func() { _ = sess.Pump() }()
	defer r.disconnect(sess)

	r.sendWelcome(sess)
	r.sendFullSnapshot(sess)

	r.dispatchLoop(ctx, sess, recv)
}

// authenticate implements spec §4.4's HELLO handshake: validate the token
// when required, build the Session, and register it.
func (r *Router) authenticate(sender session.Sender, hello *wire.Hello) (*session.Session, bool) {
	now := time.Now()
	sess := session.New(newSessionID(), hello.Name, hello.Features, sender, session.Config{
		MaxMsgsPerSec: r.effectiveRateLimit(),
	}, now)

	if !r.cfg.SecurityMode.RequiresToken() {
		return sess, true
	}

	if hello.Token == "" {
		r.sendAndClose(sender, errorMessage(wire.ErrCodeAuthInvalid, "authentication required"))
		return nil, false
	}

	if capability.HasPrefix(hello.Token) {
		tok, err := capability.Decode(hello.Token)
		if err != nil {
			r.sendAndClose(sender, errorMessage(wire.ErrCodeAuthInvalid, "malformed capability token: %v", err))
			return nil, false
		}
		if err := capability.VerifyChain(tok, r.trustAnchors, r.cfg.MaxChainDepth, now); err != nil {
			code := wire.ErrCodeAuthInvalid
			if tok.IsExpired(now) {
				code = wire.ErrCodeAuthExpired
			}
			r.sendAndClose(sender, errorMessage(code, "capability token rejected: %v", err))
			return nil, false
		}
		sess.Authenticated = true
		sess.Subject = string(tok.IssuerPubkey)
		sess.Scopes = capability.ParsedScopes(tok.Scopes)
		return sess, true
	}

	if r.validator == nil {
		r.sendAndClose(sender, errorMessage(wire.ErrCodeServer, "server misconfiguration: no token validator"))
		return nil, false
	}
	info, err := r.validator.Validate(hello.Token, now)
	if err != nil {
		code := wire.ErrCodeAuthInvalid
		if errors.Is(err, security.ErrExpiredToken) {
			code = wire.ErrCodeAuthExpired
		}
		r.sendAndClose(sender, errorMessage(code, "token rejected: %v", err))
		return nil, false
	}
	sess.Authenticated = true
	sess.Subject = info.Subject
	sess.Scopes = info.Scopes
	return sess, true
}

func (r *Router) effectiveRateLimit() int {
	if !r.cfg.RateLimitingEnabled {
		return 0
	}
	return r.cfg.MaxMessagesPerSecond
}

func (r *Router) sendAndClose(sender session.Sender, errMsg *wire.Message) {
	if b := encode(errMsg); b != nil {
		_ = sender.Send(b)
	}
	_ = sender.Close()
}

func (r *Router) sendWelcome(sess *session.Session) {
	welcome := &wire.Message{Type: wire.TypeWelcome, Welcome: &wire.Welcome{
		Version:    wire.ProtocolVersion,
		SessionID:  sess.ID,
		Name:       r.cfg.Name,
		Features:   r.cfg.Features,
		ServerTime: time.Now().UnixMicro(),
	}}
	sess.TryDeliver(encode(welcome))
}

// sendFullSnapshot delivers the initial SNAPSHOT, applying the snapshot
// filter and chunking to MaxSnapshotChunk entries (spec §4.4).
func (r *Router) sendFullSnapshot(sess *session.Session) {
	rows := r.snapshotRows("")
	if r.snapshotFilter != nil {
		rows = r.snapshotFilter.FilterSnapshot(rows, sess)
	}
	r.deliverSnapshot(sess, rows)
}

func (r *Router) snapshotRows(patternPrefix string) []wire.ParamEntry {
	all := r.store.Snapshot()
	out := make([]wire.ParamEntry, 0, len(all))
	for addr, ps := range all {
		v, ok := ps.Value.(wire.Value)
		if !ok {
			continue
		}
		out = append(out, wire.ParamEntry{
			Address:     addr,
			Value:       v,
			Revision:    ps.Revision,
			Writer:      ps.Writer,
			TimestampUs: ps.TimestampUs,
		})
	}
	return out
}

func (r *Router) deliverSnapshot(sess *session.Session, rows []wire.ParamEntry) {
	chunkSize := r.cfg.MaxSnapshotChunk
	if chunkSize <= 0 {
		chunkSize = len(rows)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	if len(rows) == 0 {
		sess.TryDeliver(encode(&wire.Message{Type: wire.TypeSnapshot, Snapshot: &wire.Snapshot{Chunk: 0, Of: 1}}))
		return
	}
	total := uint32((len(rows) + chunkSize - 1) / chunkSize)
	for i := uint32(0); i*uint32(chunkSize) < uint32(len(rows)); i++ {
		start := i * uint32(chunkSize)
		end := start + uint32(chunkSize)
		if end > uint32(len(rows)) {
			end = uint32(len(rows))
		}
		snap := &wire.Snapshot{Params: rows[start:end], Chunk: i, Of: total}
		sess.TryDeliver(encode(&wire.Message{Type: wire.TypeSnapshot, Snapshot: snap}))
	}
}
