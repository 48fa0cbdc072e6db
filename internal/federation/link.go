package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/wire"
)

// Receiver is the read half of the transport connection to the peer; the
// concrete transport (ws.go, quic.go) supplies it. Identical in shape to
// router.Receiver so either satisfies it without an import cycle.
type Receiver interface {
	Recv(ctx context.Context) ([]byte, error)
}

// Link is one federation link to a single peer router, appearing to that
// peer as a normal CLASP client session whose features include "federation"
// (spec §4.8).
type Link struct {
	cfg    Config
	sender session.Sender
	log    *slog.Logger

	events chan<- LinkEvent

	mu              sync.Mutex
	peer            *PeerInfo
	state           PeerState
	revisionVector  map[string]uint64
}

// New creates a Link bound to an already-connected transport. Call Run to
// start the handshake and message relay loop.
func New(cfg Config, sender session.Sender, events chan<- LinkEvent, log *slog.Logger) *Link {
	if log == nil {
		log = slog.Default()
	}
	return &Link{
		cfg:            cfg,
		sender:         sender,
		log:            log,
		events:         events,
		state:          PeerConnecting,
		revisionVector: make(map[string]uint64),
	}
}

func (l *Link) State() PeerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Peer() *PeerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peer == nil {
		return nil
	}
	cp := *l.peer
	return &cp
}

// Run sends HELLO and then relays the peer's messages until recv returns an
// error or ctx is done (spec §4.8's connection lifecycle, steps 1-6).
func (l *Link) Run(ctx context.Context, recv Receiver) error {
	if err := l.sendHello(); err != nil {
		return fmt.Errorf("federation link: send hello: %w", err)
	}
	l.setState(PeerHandshaking)

	for {
		raw, err := recv.Recv(ctx)
		if err != nil {
			router := ""
			if p := l.Peer(); p != nil {
				router = p.RouterID
			}
			l.emit(LinkEvent{Kind: EventDisconnected, RouterID: router, Reason: err.Error()})
			return err
		}
		msg, decErr := wire.Decode(raw, wire.DefaultMaxFrameSize)
		if decErr != nil {
			l.log.Debug("federation link: dropping malformed frame", "err", decErr)
			continue
		}
		if err := l.handle(msg); err != nil {
			l.log.Error("federation link error", "err", err)
			return err
		}
	}
}

func (l *Link) setState(s PeerState) {
	l.mu.Lock()
	l.state = s
	if l.peer != nil {
		l.peer.State = s
	}
	l.mu.Unlock()
}

func (l *Link) emit(ev LinkEvent) {
	if l.events == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Warn("federation link: event channel full, dropping event", "kind", ev.Kind)
	}
}

func (l *Link) send(msg *wire.Message) error {
	b, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return l.sender.Send(b)
}

func (l *Link) sendHello() error {
	return l.send(&wire.Message{Type: wire.TypeHello, Hello: &wire.Hello{
		Version:  wire.ProtocolVersion,
		Name:     l.cfg.ClientName,
		Features: l.cfg.Features,
		Token:    l.cfg.AuthToken,
	}})
}

func (l *Link) declareNamespaces() error {
	return l.send(&wire.Message{Type: wire.TypeFederationSync, FederationSync: &wire.FederationSync{
		Op:       wire.FedOpDeclareNamespaces,
		RouterID: l.cfg.RouterID,
		Patterns: l.cfg.OwnedNamespaces,
	}})
}

func (l *Link) subscribeToPeer(patterns []string) error {
	for i, pattern := range patterns {
		if err := l.send(&wire.Message{Type: wire.TypeSubscribe, Subscribe: &wire.Subscribe{
			SubID:   uint32(1000 + i),
			Pattern: pattern,
		}}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Link) requestSync(pattern string, since *uint64) error {
	return l.send(&wire.Message{Type: wire.TypeFederationSync, FederationSync: &wire.FederationSync{
		Op:            wire.FedOpRequestSync,
		RouterID:      l.cfg.RouterID,
		Patterns:      []string{pattern},
		SinceRevision: since,
	}})
}

func (l *Link) sendRevisionVector() error {
	l.mu.Lock()
	revisions := make(map[string]uint64, len(l.revisionVector))
	for k, v := range l.revisionVector {
		revisions[k] = v
	}
	l.mu.Unlock()
	return l.send(&wire.Message{Type: wire.TypeFederationSync, FederationSync: &wire.FederationSync{
		Op:        wire.FedOpRevisionVector,
		RouterID:  l.cfg.RouterID,
		Revisions: revisions,
	}})
}

// ForwardSet relays a locally-originated SET to the peer, provided it is
// owned by this peer's declared namespace and did not originate from this
// same peer (spec §4.8 step 5, loop prevention).
func (l *Link) ForwardSet(addr string, value wire.Value, revision uint64) {
	if !l.ownsAddress(addr) {
		return
	}
	_ = l.send(&wire.Message{Type: wire.TypeSet, Set: &wire.Set{Address: addr, Value: value}})
}

// ForwardPublish relays a locally-originated PUBLISH to the peer under the
// same namespace-ownership rule as ForwardSet.
func (l *Link) ForwardPublish(p *wire.Publish) {
	if !l.ownsAddress(p.Address) {
		return
	}
	_ = l.send(&wire.Message{Type: wire.TypePublish, Publish: p})
}

func (l *Link) ownsAddress(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.peer == nil {
		return false
	}
	for _, ns := range l.peer.Namespaces {
		if address.CoveredByStrings(addr, ns) {
			return true
		}
	}
	return false
}

func (l *Link) handle(msg *wire.Message) error {
	switch msg.Type {
	case wire.TypeWelcome:
		return l.handleWelcome(msg.Welcome)
	case wire.TypeFederationSync:
		return l.handleFederationSync(msg.FederationSync)
	case wire.TypeSet:
		l.handleRemoteSet(msg.Set)
	case wire.TypePublish:
		l.handleRemotePublish(msg.Publish)
	case wire.TypeSnapshot:
		l.handleSnapshot(msg.Snapshot)
	case wire.TypePing:
		return l.send(&wire.Message{Type: wire.TypePong})
	case wire.TypeError:
		if msg.Error != nil {
			l.log.Warn("federation peer error", "code", msg.Error.Code, "message", msg.Error.Message)
		}
	case wire.TypeAck, wire.TypePong:
		// no action needed
	default:
		l.log.Debug("federation link: ignoring message type", "type", msg.Type)
	}
	return nil
}

func (l *Link) handleWelcome(w *wire.Welcome) error {
	if w == nil {
		return nil
	}
	l.mu.Lock()
	l.peer = &PeerInfo{RouterID: w.SessionID, SessionID: w.SessionID, Outbound: true, State: PeerHandshaking}
	l.mu.Unlock()
	l.setState(PeerSyncing)
	return l.declareNamespaces()
}

func (l *Link) handleFederationSync(msg *wire.FederationSync) error {
	if msg == nil {
		return nil
	}
	switch msg.Op {
	case wire.FedOpDeclareNamespaces:
		routerID := msg.RouterID
		if routerID == "" {
			if p := l.Peer(); p != nil {
				routerID = p.RouterID
			}
		}
		accepted := make([]string, 0, len(msg.Patterns))
		for _, pattern := range msg.Patterns {
			if l.permits(pattern) {
				accepted = append(accepted, pattern)
			} else {
				l.log.Warn("federation peer declared a namespace outside what we permit", "peer", routerID, "pattern", pattern)
			}
		}
		l.mu.Lock()
		if l.peer != nil {
			l.peer.Namespaces = accepted
		}
		l.mu.Unlock()
		l.emit(LinkEvent{Kind: EventPeerNamespaces, RouterID: routerID, Patterns: accepted})
		if err := l.subscribeToPeer(accepted); err != nil {
			return err
		}
		for _, pattern := range accepted {
			if err := l.requestSync(pattern, nil); err != nil {
				return err
			}
		}
	case wire.FedOpRequestSync:
		return l.sendRevisionVector()
	case wire.FedOpRevisionVector:
		// Comparing against local state to identify what needs syncing is
		// the embedding application's job (it owns the state store); we
		// only track our own vector here.
	case wire.FedOpSyncComplete:
		routerID := ""
		if p := l.Peer(); p != nil {
			routerID = p.RouterID
		}
		pattern := ""
		if len(msg.Patterns) > 0 {
			pattern = msg.Patterns[0]
		}
		var rev uint64
		if msg.SinceRevision != nil {
			rev = *msg.SinceRevision
		}
		l.setState(PeerActive)
		l.emit(LinkEvent{Kind: EventSyncComplete, RouterID: routerID, Pattern: pattern, SyncedToRev: rev})
		l.emit(LinkEvent{Kind: EventConnected, RouterID: routerID})
	}
	return nil
}

func (l *Link) permits(pattern string) bool {
	if len(l.cfg.PermitNamespaces) == 0 {
		return true
	}
	for _, permit := range l.cfg.PermitNamespaces {
		if address.CoveredByStrings(pattern, permit) {
			return true
		}
	}
	return false
}

func (l *Link) handleRemoteSet(s *wire.Set) {
	if s == nil {
		return
	}
	origin := ""
	if p := l.Peer(); p != nil {
		origin = p.RouterID
	}
	if s.ExpectedRevision != nil {
		l.mu.Lock()
		l.revisionVector[s.Address] = *s.ExpectedRevision
		l.mu.Unlock()
	}
	l.emit(LinkEvent{Kind: EventRemoteSet, Address: s.Address, Value: s.Value, Revision: s.ExpectedRevision, RouterID: origin})
}

func (l *Link) handleRemotePublish(p *wire.Publish) {
	if p == nil {
		return
	}
	origin := ""
	if peer := l.Peer(); peer != nil {
		origin = peer.RouterID
	}
	l.emit(LinkEvent{Kind: EventRemotePublish, Publish: p, RouterID: origin})
}

func (l *Link) handleSnapshot(snap *wire.Snapshot) {
	if snap == nil {
		return
	}
	origin := ""
	if p := l.Peer(); p != nil {
		origin = p.RouterID
	}
	l.mu.Lock()
	for _, param := range snap.Params {
		l.revisionVector[param.Address] = param.Revision
	}
	l.mu.Unlock()
	for _, param := range snap.Params {
		rev := param.Revision
		l.emit(LinkEvent{Kind: EventRemoteSet, Address: param.Address, Value: param.Value, Revision: &rev, RouterID: origin})
	}
}
