// Package registry is the entity store persisting identities the router's
// authorization model is configured from: CPSK tokens, capability trust
// anchors, and federation peer namespace declarations (spec §502's
// SQLite-backed persistence surface; the in-memory implementation exists
// for development and tests).
package registry

import "time"

// EntityType distinguishes what kind of principal an Entity represents.
type EntityType int

const (
	EntityDevice EntityType = iota
	EntityUser
	EntityService
	EntityRouter
)

func (t EntityType) String() string {
	switch t {
	case EntityDevice:
		return "device"
	case EntityUser:
		return "user"
	case EntityService:
		return "service"
	case EntityRouter:
		return "router"
	default:
		return "device"
	}
}

func parseEntityType(s string) EntityType {
	switch s {
	case "user":
		return EntityUser
	case "service":
		return EntityService
	case "router":
		return EntityRouter
	default:
		return EntityDevice
	}
}

// EntityStatus tracks whether an entity's credentials are still honored.
type EntityStatus int

const (
	StatusActive EntityStatus = iota
	StatusSuspended
	StatusRevoked
)

func (s EntityStatus) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRevoked:
		return "revoked"
	default:
		return "active"
	}
}

func parseEntityStatus(s string) EntityStatus {
	switch s {
	case "suspended":
		return StatusSuspended
	case "revoked":
		return StatusRevoked
	default:
		return StatusActive
	}
}

// Entity is one registered principal: a device/user/service/router with a
// public key (trust anchor material), a CPSK token in Metadata when it
// authenticates that way, declared namespaces (federation peers use this
// to record what they're permitted to own), and capability scope strings.
type Entity struct {
	ID         string
	Type       EntityType
	Name       string
	PublicKey  []byte
	CreatedAt  time.Time
	Metadata   map[string]string
	Tags       []string
	Namespaces []string
	Scopes     []string
	Status     EntityStatus
}

// IsActive reports whether this entity's credentials should still be
// honored.
func (e Entity) IsActive() bool { return e.Status == StatusActive }

// CpskToken returns the CPSK token associated with this entity, if any,
// stored as metadata["cpsk_token"] by convention.
func (e Entity) CpskToken() (string, bool) {
	tok, ok := e.Metadata["cpsk_token"]
	return tok, ok
}
