package redirect

import "testing"

func TestAcceptAll(t *testing.T) {
	p := AcceptAll()

	d := p.Decide(IncomingCall{CallID: "c1", Caller: "+15550001111", Callee: "+15559990000"})
	if d.Action != ActionAccept {
		t.Fatalf("expected accept, got %s", d.Action)
	}
}

func TestRulePolicy_FirstMatchWins(t *testing.T) {
	p := NewRulePolicy([]Rule{
		{CallerPrefix: "+1900", Action: ActionReject, Reason: "premium_blocked"},
		{CalleePrefix: "+1555", Action: ActionForward, Target: "sip:frontdesk@pbx", Reason: "frontdesk"},
	}, Decision{})

	d := p.Decide(IncomingCall{Caller: "+19005551234", Callee: "+15559990000"})
	if d.Action != ActionReject || d.Reason != "premium_blocked" {
		t.Fatalf("expected first rule to win, got %+v", d)
	}

	d = p.Decide(IncomingCall{Caller: "+14155551234", Callee: "+15559990000"})
	if d.Action != ActionForward || d.Target != "sip:frontdesk@pbx" {
		t.Fatalf("expected forward rule, got %+v", d)
	}
}

func TestRulePolicy_FallbackAccepts(t *testing.T) {
	p := NewRulePolicy([]Rule{
		{CallerPrefix: "+1900", Action: ActionReject},
	}, Decision{})

	d := p.Decide(IncomingCall{Caller: "+14155551234", Callee: "+16505550000"})
	if d.Action != ActionAccept {
		t.Fatalf("expected fallback accept, got %+v", d)
	}
}

func TestRulePolicy_Deterministic(t *testing.T) {
	p := NewRulePolicy([]Rule{
		{CalleePrefix: "+1555", Action: ActionForward, Target: "sip:a@pbx"},
	}, Decision{})

	call := IncomingCall{CallID: "c1", Caller: "+14155551234", Callee: "+15559990000"}
	first := p.Decide(call)
	for i := 0; i < 10; i++ {
		if got := p.Decide(call); got != first {
			t.Fatalf("decision changed between calls: %+v vs %+v", got, first)
		}
	}
}
