// Package federation implements the CLASP federation link: a peer router
// connection that reuses the ordinary client protocol (HELLO/WELCOME,
// FEDERATION_SYNC, SET, PUBLISH) to exchange namespace ownership and sync
// revisions between two routers (spec §4.8).
package federation

import "time"

// DefaultSyncTimeout matches spec §5's "configurable, default 30 s".
const DefaultSyncTimeout = 30 * time.Second

// PeerState tracks one link's position in the connect/handshake/sync/active
// lifecycle (spec §4.8).
type PeerState int

const (
	PeerConnecting PeerState = iota
	PeerHandshaking
	PeerSyncing
	PeerActive
	PeerDisconnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnecting:
		return "connecting"
	case PeerHandshaking:
		return "handshaking"
	case PeerSyncing:
		return "syncing"
	case PeerActive:
		return "active"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config bounds one outbound federation link.
type Config struct {
	RouterID        string   // our own id, used as the origin tag on mutations we forward
	ClientName      string   // HELLO name
	Features        []string // must include "federation"; caller's responsibility
	AuthToken       string
	OwnedNamespaces []string // patterns we declare to the peer
	// PermitNamespaces bounds what a peer may declare ownership of; a
	// declared pattern not covered by one of these is rejected (spec §4.8
	// step 3, §4.9 covered_by). Empty means "**" (accept anything).
	PermitNamespaces []string
	SyncTimeout      time.Duration
}

func (c Config) syncTimeout() time.Duration {
	if c.SyncTimeout > 0 {
		return c.SyncTimeout
	}
	return DefaultSyncTimeout
}

// PeerInfo is populated once the peer's WELCOME and DeclareNamespaces have
// been received.
type PeerInfo struct {
	RouterID   string
	SessionID  string
	Namespaces []string
	Outbound   bool
	State      PeerState
}
