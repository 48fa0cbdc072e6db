package federation

import "github.com/rustyguts/clasp/internal/wire"

// EventKind discriminates LinkEvent's populated fields.
type EventKind int

const (
	EventPeerNamespaces EventKind = iota
	EventRemoteSet
	EventRemotePublish
	EventSyncComplete
	EventConnected
	EventDisconnected
)

// LinkEvent is one notification a running Link emits to its owner (the
// embedding application, which applies RemoteSet/RemotePublish to the local
// router) (spec §4.8).
type LinkEvent struct {
	Kind EventKind

	RouterID string

	// EventPeerNamespaces
	Patterns []string

	// EventRemoteSet
	Address  string
	Value    wire.Value
	Revision *uint64

	// EventRemotePublish
	Publish *wire.Publish

	// EventSyncComplete
	Pattern     string
	SyncedToRev uint64

	// EventDisconnected
	Reason string
}
