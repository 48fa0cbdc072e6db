package router

import (
	"time"

	"github.com/rustyguts/clasp/internal/session"
	"github.com/rustyguts/clasp/internal/wire"
)

// WriteValidator lets the embedding application enforce semantic
// authorization beyond scope checks, e.g. "only room creators may write
// admin paths" (spec §4.4, "app_write_validator hook").
type WriteValidator interface {
	ValidateWrite(address string, value wire.Value, sess *session.Session) error
}

// SnapshotFilter redacts or restricts a snapshot before delivery, e.g.
// stripping another user's private paths.
type SnapshotFilter interface {
	FilterSnapshot(rows []wire.ParamEntry, sess *session.Session) []wire.ParamEntry
}

// RuleAction is one action a RulesEngine wants the router to execute after
// a triggering SET/PUBLISH, tagged with the originating rule id so the
// router can mark it with origin `rule:<id>` (spec §4.4, §7).
type RuleAction struct {
	RuleID     string
	Address    string
	Value      wire.Value
	Publish    bool   // true: PUBLISH-style fan-out; false: SET-style store update
	SignalType string // only meaningful when Publish is true

	// Delay defers execution of Then by this duration, interpreted by the
	// router since the rules engine itself only resolves and forwards it
	// (spec §4.7, "Delay{...} (interpreted by the caller)").
	Delay time.Duration
	Then  *RuleAction
}

// StateLookup resolves an address's current value for rule condition
// evaluation, backed by the router's parameter store.
type StateLookup func(address string) (wire.Value, bool)

// RulesEngine is the optional C9 collaborator; internal/rules implements it.
type RulesEngine interface {
	// Evaluate runs every enabled rule whose trigger matches address and
	// signalType, skipping rule-originated mutations (origin has the
	// "rule:" prefix) to prevent self-triggering loops.
	Evaluate(address string, value wire.Value, signalType string, origin string, lookup StateLookup, now time.Time) []RuleAction
	// EvaluateInterval fires one OnInterval rule directly, outside of any
	// mutation, at the router's scheduled tick.
	EvaluateInterval(ruleID string, lookup StateLookup, now time.Time) []RuleAction
	// IntervalRules reports the {ruleID, period} pairs the router must
	// schedule a ticker for.
	IntervalRules() []IntervalRule
}

// IntervalRule describes one OnInterval trigger the router must drive with
// its own ticker.
type IntervalRule struct {
	RuleID  string
	Seconds uint64
}

// FederationForwarder is the optional C10 collaborator notified of every
// locally-originated SET/PUBLISH so it can relay mutations to peers whose
// declared namespaces cover the address (spec §4.8 step 5). The forwarder
// owns its own loop-prevention (it never forwards a mutation whose origin is
// its own router id or a peer it received it from).
type FederationForwarder interface {
	ForwardSet(address string, value wire.Value, revision uint64)
	ForwardPublish(p *wire.Publish)
}

// JournalEntry mirrors spec §3's persisted mutation record.
type JournalEntry struct {
	Seq        uint64
	Timestamp  time.Time
	Author     string
	Address    string
	SignalType string
	Value      wire.Value
	Revision   *uint64
	MsgType    wire.Type
}

// Journal is the optional persistence collaborator backing REPLAY.
type Journal interface {
	Append(entry JournalEntry) error
	Replay(pattern string, from, to time.Time, limit int, signalTypes []string) ([]JournalEntry, error)
}
