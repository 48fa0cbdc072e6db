// Package state implements the CLASP parameter store: revisioned values per
// address, pluggable conflict-resolution strategies, optimistic locking, and
// capacity/TTL eviction (spec §4.2).
package state

import (
	"sync"
	"time"
)

// Strategy selects how concurrent writes to the same address are resolved.
type Strategy int

const (
	LWW Strategy = iota
	Max
	Min
	Lock
	Merge
)

func (s Strategy) String() string {
	switch s {
	case LWW:
		return "lww"
	case Max:
		return "max"
	case Min:
		return "min"
	case Lock:
		return "lock"
	case Merge:
		return "merge"
	default:
		return "unknown"
	}
}

// EvictionPolicy governs what happens when a new address must be created but
// the store is already at capacity.
type EvictionPolicy int

const (
	EvictLRU EvictionPolicy = iota
	EvictOldestFirst
	EvictRejectNew
)

// Meta carries optional per-address metadata (unit, numeric range, default).
type Meta struct {
	Unit    string
	HasRange bool
	Min     float64
	Max     float64
	Default *Value
}

// Value is re-exported locally to avoid a hard dependency from state to the
// wire package's concrete type; callers pass in whatever satisfies this
// narrow numeric-aware interface. In this repository it is wire.Value.
type Value = interface{}

// ParamState is one live address's revisioned record (spec §3).
type ParamState struct {
	Value           Value
	Revision        uint64
	Writer          string
	TimestampUs     int64
	LastAccessedUs  int64
	Strategy        Strategy
	LockHolder      string // "" when unlocked
	Meta            *Meta
	Origin          string // federation loop-prevention tag, "" if local
}

// Config configures a Store's capacity and eviction behavior.
type Config struct {
	MaxEntries int // 0 = unbounded
	TTL        time.Duration // 0 = no TTL sweep
	Eviction   EvictionPolicy
}

// Numeric is implemented by values the store can compare for Max/Min.
type Numeric interface {
	IsNumeric() bool
	AsFloat64() float64
}

// UpdateError is returned by TryUpdate on rejection; Code distinguishes the
// reject reason so callers can map it onto a wire ERROR code.
type UpdateError struct {
	Code   ErrorCode
	Actual uint64 // populated for RevisionConflict
	Holder string // populated for LockHeld
}

type ErrorCode int

const (
	ErrRevisionConflict ErrorCode = iota
	ErrLockHeld
	ErrConflictRejected
	ErrAtCapacity
	ErrRangeViolation
)

func (e *UpdateError) Error() string {
	switch e.Code {
	case ErrRevisionConflict:
		return "revision conflict"
	case ErrLockHeld:
		return "lock held"
	case ErrConflictRejected:
		return "conflict rejected"
	case ErrAtCapacity:
		return "store at capacity"
	case ErrRangeViolation:
		return "value outside configured range"
	default:
		return "update rejected"
	}
}

// Store is a concurrency-safe address -> ParamState map.
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	entries map[string]*ParamState
	order   []string // insertion order, for EvictOldestFirst
}

func New(cfg Config) *Store {
	return &Store{cfg: cfg, entries: make(map[string]*ParamState)}
}

// Get returns a copy of the address's state, bumping LastAccessedUs, and
// whether the address exists.
func (s *Store) Get(address string, nowUs int64) (ParamState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[address]
	if !ok {
		return ParamState{}, false
	}
	p.LastAccessedUs = nowUs
	return *p, true
}

// Snapshot returns a copy of every live entry, keyed by address.
func (s *Store) Snapshot() map[string]ParamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ParamState, len(s.entries))
	for k, v := range s.entries {
		out[k] = *v
	}
	return out
}

// Len reports the number of live addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TryUpdate applies the update contract of spec §4.2 step by step.
func (s *Store) TryUpdate(
	address string,
	newValue Value,
	writer string,
	expectedRevision *uint64,
	requestLock bool,
	releaseLock bool,
	strategy Strategy,
	meta *Meta,
	origin string,
	nowUs int64,
) (ParamState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.entries[address]
	if !exists {
		if err := s.makeRoom(address, nowUs); err != nil {
			return ParamState{}, err
		}
		p = &ParamState{Strategy: strategy, Meta: meta}
		s.entries[address] = p
		s.order = append(s.order, address)
	}

	// step 1: optimistic concurrency
	if expectedRevision != nil && *expectedRevision != p.Revision {
		return ParamState{}, &UpdateError{Code: ErrRevisionConflict, Actual: p.Revision}
	}

	// step 2/3: lock handling
	if p.LockHolder != "" && p.LockHolder != writer && !releaseLock {
		return ParamState{}, &UpdateError{Code: ErrLockHeld, Holder: p.LockHolder}
	}
	if releaseLock && writer == p.LockHolder {
		p.LockHolder = ""
	}

	// range validation, if configured
	if meta == nil {
		meta = p.Meta
	}
	if meta != nil && meta.HasRange {
		if n, ok := newValue.(Numeric); ok && n.IsNumeric() {
			f := n.AsFloat64()
			if f < meta.Min || f > meta.Max {
				return ParamState{}, &UpdateError{Code: ErrRangeViolation}
			}
		}
	}

	// step 4: strategy evaluation
	eff := strategy
	if exists {
		eff = p.Strategy
	}
	if !acceptsByStrategy(eff, p, newValue, nowUs, exists) {
		return ParamState{}, &UpdateError{Code: ErrConflictRejected}
	}

	// step 5: lock acquisition
	if requestLock && p.LockHolder != writer {
		p.LockHolder = writer
	}

	// step 6: commit
	p.Value = newValue
	p.Revision++
	if p.Revision == 0 {
		p.Revision = 1
	}
	p.Writer = writer
	p.TimestampUs = nowUs
	p.LastAccessedUs = nowUs
	p.Origin = origin
	if meta != nil {
		p.Meta = meta
	}
	return *p, nil
}

func acceptsByStrategy(strategy Strategy, existing *ParamState, newValue Value, nowUs int64, exists bool) bool {
	if !exists {
		return true // creation always succeeds (capacity already checked)
	}
	switch strategy {
	case LWW:
		return nowUs >= existing.TimestampUs
	case Max, Min:
		nn, ok1 := newValue.(Numeric)
		on, ok2 := existing.Value.(Numeric)
		if !ok1 || !ok2 || !nn.IsNumeric() || !on.IsNumeric() {
			return nowUs >= existing.TimestampUs // fall back to LWW
		}
		if strategy == Max {
			return nn.AsFloat64() > on.AsFloat64()
		}
		return nn.AsFloat64() < on.AsFloat64()
	case Lock:
		// Lock authority (unlocked, or writer is the holder) was already
		// enforced in step 2; reaching here means the write is permitted.
		return true
	case Merge:
		return true
	default:
		return nowUs >= existing.TimestampUs
	}
}

// makeRoom enforces the creation contract: if at capacity, evict per policy
// or fail with AtCapacity. Caller holds s.mu.
func (s *Store) makeRoom(newAddress string, nowUs int64) error {
	if s.cfg.MaxEntries <= 0 || len(s.entries) < s.cfg.MaxEntries {
		return nil
	}
	switch s.cfg.Eviction {
	case EvictLRU:
		var oldestAddr string
		var oldestAccess int64 = -1
		for addr, p := range s.entries {
			if oldestAccess == -1 || p.LastAccessedUs < oldestAccess {
				oldestAccess = p.LastAccessedUs
				oldestAddr = addr
			}
		}
		if oldestAddr != "" {
			s.removeLocked(oldestAddr)
		}
		return nil
	case EvictOldestFirst:
		for len(s.order) > 0 {
			addr := s.order[0]
			s.order = s.order[1:]
			if _, ok := s.entries[addr]; ok {
				delete(s.entries, addr)
				return nil
			}
		}
		return nil
	default: // EvictRejectNew
		return &UpdateError{Code: ErrAtCapacity}
	}
}

func (s *Store) removeLocked(address string) {
	delete(s.entries, address)
	for i, a := range s.order {
		if a == address {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Remove deletes an address unconditionally (used by admin/test paths).
func (s *Store) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(address)
}

// SweepTTL removes every entry whose LastAccessedUs predates the cutoff.
// Returns the removed addresses.
func (s *Store) SweepTTL(nowUs int64) []string {
	if s.cfg.TTL <= 0 {
		return nil
	}
	cutoff := nowUs - s.cfg.TTL.Microseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for addr, p := range s.entries {
		if p.LastAccessedUs < cutoff {
			removed = append(removed, addr)
		}
	}
	for _, addr := range removed {
		s.removeLocked(addr)
	}
	return removed
}
