package rules

import (
	"strings"
	"sync"
	"time"

	"github.com/rustyguts/clasp/internal/wire"
)

// PendingAction is one resolved action the router must execute, tagged with
// the rule that produced it and the origin string loop prevention requires
// on the subsequent mutation (spec §4.7 step 7).
type PendingAction struct {
	RuleID string
	Action Action
	Origin string
}

// StateLookup resolves an address's current value for condition evaluation;
// the router supplies this backed by the parameter store.
type StateLookup func(address string) (value wire.Value, ok bool)

// Engine evaluates rules against state changes and interval ticks.
type Engine struct {
	mu sync.Mutex

	rules      map[string]*Rule
	lastFired  map[string]time.Time
	evaluating map[string]struct{}
}

func NewEngine() *Engine {
	return &Engine{
		rules:      make(map[string]*Rule),
		lastFired:  make(map[string]time.Time),
		evaluating: make(map[string]struct{}),
	}
}

// AddRule inserts or replaces a rule by ID.
func (e *Engine) AddRule(r Rule) error {
	if err := r.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := r
	e.rules[r.ID] = &cp
	return nil
}

func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(e.rules, id)
	return nil
}

func (e *Engine) GetRule(id string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// Rules returns a snapshot of every configured rule.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

func (e *Engine) IsEmpty() bool { return e.Len() == 0 }

func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return ErrRuleNotFound
	}
	r.Enabled = enabled
	return nil
}

// IntervalDescriptor describes one OnInterval rule for the router's
// scheduler.
type IntervalDescriptor struct {
	RuleID  string
	Seconds uint64
}

// IntervalRules reports the enabled rules with an OnInterval trigger, for
// the router to schedule a per-rule ticker against.
func (e *Engine) IntervalRules() []IntervalDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]IntervalDescriptor, 0)
	for _, r := range e.rules {
		if r.Enabled && r.Trigger.Kind == OnInterval {
			out = append(out, IntervalDescriptor{RuleID: r.ID, Seconds: r.Trigger.IntervalSeconds})
		}
	}
	return out
}

// Evaluate implements spec §4.7's evaluation steps 1-7 for a SET/PUBLISH
// mutation at address.
func (e *Engine) Evaluate(address string, value wire.Value, signalType string, origin string, lookup StateLookup, now time.Time) []PendingAction {
	if strings.HasPrefix(origin, "rule:") {
		return nil
	}

	e.mu.Lock()
	matching := make([]*Rule, 0)
	for _, r := range e.rules {
		if r.Enabled && r.Trigger.Matches(address, signalType) {
			matching = append(matching, r)
		}
	}
	e.mu.Unlock()

	var actions []PendingAction
	for _, r := range matching {
		e.mu.Lock()
		_, reentering := e.evaluating[r.ID]
		if reentering {
			e.mu.Unlock()
			continue
		}
		if r.Cooldown > 0 {
			if last, ok := e.lastFired[r.ID]; ok && now.Sub(last) < r.Cooldown {
				e.mu.Unlock()
				continue
			}
		}
		e.mu.Unlock()

		if r.Trigger.Kind == OnThreshold && !r.Trigger.thresholdMet(value) {
			continue
		}

		if !conditionsMet(r.Conditions, lookup) {
			continue
		}

		e.mu.Lock()
		e.evaluating[r.ID] = struct{}{}
		e.mu.Unlock()

		origin := "rule:" + r.ID
		for _, a := range r.Actions {
			actions = append(actions, PendingAction{RuleID: r.ID, Action: resolve(a, value), Origin: origin})
		}

		e.mu.Lock()
		e.lastFired[r.ID] = now
		delete(e.evaluating, r.ID)
		e.mu.Unlock()
	}

	return actions
}

// EvaluateInterval fires ruleID directly (no address/signal-type match),
// checking only enabled, cooldown and conditions (spec §4.7, "Interval
// rules are driven by an external timer").
func (e *Engine) EvaluateInterval(ruleID string, lookup StateLookup, now time.Time) []PendingAction {
	e.mu.Lock()
	r, ok := e.rules[ruleID]
	if !ok || !r.Enabled {
		e.mu.Unlock()
		return nil
	}
	if r.Cooldown > 0 {
		if last, ok := e.lastFired[ruleID]; ok && now.Sub(last) < r.Cooldown {
			e.mu.Unlock()
			return nil
		}
	}
	cp := *r
	e.mu.Unlock()

	if !conditionsMet(cp.Conditions, lookup) {
		return nil
	}

	origin := "interval:" + ruleID
	actions := make([]PendingAction, 0, len(cp.Actions))
	for _, a := range cp.Actions {
		actions = append(actions, PendingAction{RuleID: ruleID, Action: resolve(a, wire.Null()), Origin: origin})
	}

	e.mu.Lock()
	e.lastFired[ruleID] = now
	e.mu.Unlock()

	return actions
}

func conditionsMet(conds []Condition, lookup StateLookup) bool {
	for _, c := range conds {
		v, ok := lookup(c.Address)
		if !ok {
			return false
		}
		if !c.Op.Evaluate(v, c.Value) {
			return false
		}
	}
	return true
}

// resolve turns a SetFromTrigger action into a concrete Set using trigger,
// and recursively resolves a Delay action's nested Then; every other
// variant passes through unchanged (spec §4.7 step 6).
func resolve(a Action, trigger wire.Value) Action {
	switch a.Kind {
	case ActionSetFromTrigger:
		return Action{Kind: ActionSet, Address: a.Address, Value: a.Transform.Apply(trigger)}
	case ActionDelay:
		if a.Then != nil {
			resolved := resolve(*a.Then, trigger)
			a.Then = &resolved
		}
		return a
	default:
		return a
	}
}
