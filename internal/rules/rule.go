// Package rules implements the CLASP rules engine: trigger/condition/action
// evaluation driven by SET/PUBLISH mutations or an external interval timer,
// with cooldowns and re-entrance (loop) protection (spec §4.7).
package rules

import (
	"errors"
	"time"

	"github.com/rustyguts/clasp/internal/address"
	"github.com/rustyguts/clasp/internal/wire"
)

// TriggerKind selects which of Trigger's fields are meaningful.
type TriggerKind int

const (
	OnChange TriggerKind = iota
	OnEvent
	OnThreshold
	OnInterval
)

// Trigger is a discriminated union over the four trigger kinds spec §4.7
// names. Only the fields relevant to Kind are populated.
type Trigger struct {
	Kind TriggerKind

	// OnChange, OnEvent
	Pattern string

	// OnThreshold
	Address string
	Above   *float64
	Below   *float64

	// OnInterval
	IntervalSeconds uint64

	compiled *address.Pattern
}

// Matches reports whether this trigger fires for a mutation at address with
// the given signal type ("param" or "event"). OnInterval never matches here
// — it is driven exclusively through EvaluateInterval.
func (t *Trigger) Matches(addr, signalType string) bool {
	switch t.Kind {
	case OnChange:
		return signalType == "param" && t.pattern().Matches(addr)
	case OnEvent:
		return signalType == "event" && t.pattern().Matches(addr)
	case OnThreshold:
		return addr == t.Address
	default:
		return false
	}
}

func (t *Trigger) pattern() *address.Pattern {
	if t.compiled == nil {
		t.compiled = address.Compile(t.Pattern)
	}
	return t.compiled
}

// thresholdMet implements the above/below crossing test: both bounds OR'd
// together when both are set, matching the original's "outside the band"
// semantics rather than "inside a range".
func (t *Trigger) thresholdMet(v wire.Value) bool {
	if !v.IsNumeric() {
		return false
	}
	f := v.AsFloat64()
	switch {
	case t.Above != nil && t.Below != nil:
		return f > *t.Above || f < *t.Below
	case t.Above != nil:
		return f > *t.Above
	case t.Below != nil:
		return f < *t.Below
	default:
		return true
	}
}

// CompareOp is one of the six condition comparators spec §4.7 names.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

// Evaluate applies op between the store's current value and the condition's
// configured value. Gt/Ge/Lt/Le require both sides to be numeric; a
// non-numeric comparison against an ordering operator is always false.
func (op CompareOp) Evaluate(current, want wire.Value) bool {
	switch op {
	case OpEq:
		return current.Equal(want)
	case OpNe:
		return !current.Equal(want)
	}
	if !current.IsNumeric() || !want.IsNumeric() {
		return false
	}
	c, w := current.AsFloat64(), want.AsFloat64()
	switch op {
	case OpGt:
		return c > w
	case OpGe:
		return c >= w
	case OpLt:
		return c < w
	case OpLe:
		return c <= w
	default:
		return false
	}
}

// Condition is one `{address, op, value}` guard a rule's conditions[] entry
// evaluates against the current store state.
type Condition struct {
	Address string
	Op      CompareOp
	Value   wire.Value
}

// TransformKind selects the one transform variant spec §4.7 names for
// SetFromTrigger ("transform variants include scale+offset").
type TransformKind int

const (
	TransformScale TransformKind = iota
)

// Transform maps a trigger's value into the value a SetFromTrigger action
// writes.
type Transform struct {
	Kind   TransformKind
	Scale  float64
	Offset float64
}

// Apply computes transform(v). Non-numeric inputs pass through unchanged,
// since scale+offset is undefined for them.
func (t Transform) Apply(v wire.Value) wire.Value {
	switch t.Kind {
	case TransformScale:
		if !v.IsNumeric() {
			return v
		}
		return wire.FloatV(v.AsFloat64()*t.Scale + t.Offset)
	default:
		return v
	}
}

// ActionKind selects which of Action's fields are meaningful.
type ActionKind int

const (
	ActionSet ActionKind = iota
	ActionPublish
	ActionSetFromTrigger
	ActionDelay
)

// Action is one resolved or unresolved step a Rule executes on firing.
type Action struct {
	Kind ActionKind

	// ActionSet, ActionSetFromTrigger (Address is the write target; Value is
	// only meaningful for ActionSet)
	Address string
	Value   wire.Value

	// ActionPublish
	SignalType string
	HasValue   bool // false for a value-less event publish

	// ActionSetFromTrigger
	Transform Transform

	// ActionDelay: spec leaves interpretation to the caller (the router);
	// Then is the action to execute once Delay has elapsed.
	Delay time.Duration
	Then  *Action
}

// Rule is one `{id, name, enabled, trigger, conditions[], actions[],
// cooldown?}` record (spec §4.7).
type Rule struct {
	ID         string
	Name       string
	Enabled    bool
	Trigger    Trigger
	Conditions []Condition
	Actions    []Action
	Cooldown   time.Duration // 0 disables cooldown gating
}

var (
	ErrEmptyID      = errors.New("rule ID cannot be empty")
	ErrNoActions    = errors.New("rule must have at least one action")
	ErrRuleNotFound = errors.New("rule not found")
)

func (r *Rule) validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	return nil
}
