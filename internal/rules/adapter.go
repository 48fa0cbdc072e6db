package rules

import (
	"time"

	"github.com/rustyguts/clasp/internal/router"
	"github.com/rustyguts/clasp/internal/wire"
)

// RouterAdapter wraps an *Engine so it satisfies router.RulesEngine,
// converting between the engine's transport-agnostic PendingAction /
// IntervalDescriptor types and the router's RuleAction / IntervalRule types.
type RouterAdapter struct {
	Engine *Engine
}

func NewRouterAdapter(e *Engine) *RouterAdapter {
	return &RouterAdapter{Engine: e}
}

func (a *RouterAdapter) Evaluate(address string, value wire.Value, signalType string, origin string, lookup router.StateLookup, now time.Time) []router.RuleAction {
	pending := a.Engine.Evaluate(address, value, signalType, origin, StateLookup(lookup), now)
	out := make([]router.RuleAction, 0, len(pending))
	for _, p := range pending {
		out = append(out, toRuleAction(p))
	}
	return out
}

func (a *RouterAdapter) EvaluateInterval(ruleID string, lookup router.StateLookup, now time.Time) []router.RuleAction {
	pending := a.Engine.EvaluateInterval(ruleID, StateLookup(lookup), now)
	out := make([]router.RuleAction, 0, len(pending))
	for _, p := range pending {
		out = append(out, toRuleAction(p))
	}
	return out
}

func (a *RouterAdapter) IntervalRules() []router.IntervalRule {
	descs := a.Engine.IntervalRules()
	out := make([]router.IntervalRule, 0, len(descs))
	for _, d := range descs {
		out = append(out, router.IntervalRule{RuleID: d.RuleID, Seconds: d.Seconds})
	}
	return out
}

// toRuleAction flattens one resolved Action (plus its rule/origin tag) into
// the router's wire-shaped RuleAction, recursively converting a Delay
// action's nested Then.
func toRuleAction(p PendingAction) router.RuleAction {
	return actionToRuleAction(p.RuleID, p.Action)
}

func actionToRuleAction(ruleID string, act Action) router.RuleAction {
	ra := router.RuleAction{RuleID: ruleID}
	switch act.Kind {
	case ActionSet, ActionSetFromTrigger:
		ra.Address = act.Address
		ra.Value = act.Value
	case ActionPublish:
		ra.Address = act.Address
		ra.Value = act.Value
		ra.Publish = true
		ra.SignalType = act.SignalType
	case ActionDelay:
		ra.Delay = act.Delay
		if act.Then != nil {
			then := actionToRuleAction(ruleID, *act.Then)
			ra.Then = &then
		}
	}
	return ra
}
