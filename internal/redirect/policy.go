package redirect

// Decision is the disposition of a newly incoming call.
//
// It must contain only what the dispatcher needs to drive the state machine:
// the action and, for forwards, the target. Reason is for internal logs.

type Decision struct {
	Action Action `json:"action"`

	// Target is the forward destination when Action == ActionForward,
	// e.g. "sip:agent-123@pbx.example.com" or "+15551234567".
	Target string `json:"target,omitempty"`

	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionForward Action = "forward"
)

// IncomingCall describes the call a policy decides on.
type IncomingCall struct {
	CallID   string `json:"call_id"`
	TenantID string `json:"tenant_id"`

	// Caller and Callee are E.164 or platform user ids, as delivered.
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// Policy decides the disposition of an incoming call.
//
// Implementations must be deterministic given the same descriptor and
// configuration: no storage reads, no clock, no hidden state. That keeps
// redirect decisions testable without a live call.
type Policy interface {
	Decide(call IncomingCall) Decision
}

// AcceptAll returns the default policy: every call is accepted.
func AcceptAll() Policy { return acceptAll{} }

type acceptAll struct{}

func (acceptAll) Decide(IncomingCall) Decision {
	return Decision{Action: ActionAccept, Reason: "default_accept"}
}
