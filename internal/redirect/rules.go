package redirect

import "strings"

// Rule matches a call by caller/callee prefix and names a disposition.
// Empty match fields match everything.
type Rule struct {
	CallerPrefix string `json:"caller_prefix,omitempty"`
	CalleePrefix string `json:"callee_prefix,omitempty"`

	Action Action `json:"action"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r Rule) matches(call IncomingCall) bool {
	if r.CallerPrefix != "" && !strings.HasPrefix(call.Caller, r.CallerPrefix) {
		return false
	}
	if r.CalleePrefix != "" && !strings.HasPrefix(call.Callee, r.CalleePrefix) {
		return false
	}
	return true
}

// RulePolicy evaluates rules in order; the first match wins. Calls matching
// no rule get the fallback decision.
type RulePolicy struct {
	rules    []Rule
	fallback Decision
}

func NewRulePolicy(rules []Rule, fallback Decision) *RulePolicy {
	if fallback.Action == "" {
		fallback = Decision{Action: ActionAccept, Reason: "fallback_accept"}
	}
	return &RulePolicy{rules: rules, fallback: fallback}
}

func (p *RulePolicy) Decide(call IncomingCall) Decision {
	for _, r := range p.rules {
		if !r.matches(call) {
			continue
		}
		return Decision{Action: r.Action, Target: r.Target, Reason: r.Reason}
	}
	return p.fallback
}
