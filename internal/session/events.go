package session

// EventKind is the normalized notification kind delivered by the call
// platform. Unknown kinds are rejected at the validator boundary; everything
// below is safe to hand to Apply.
type EventKind string

const (
	EventIncomingCall        EventKind = "incoming_call"
	EventCallInitiated       EventKind = "call_initiated"
	EventCallEstablishing    EventKind = "call_establishing"
	EventCallEstablished     EventKind = "call_established"
	EventParticipantsUpdated EventKind = "participants_updated"
	EventCallTerminating     EventKind = "call_terminating"
	EventCallTerminated      EventKind = "call_terminated"
)

// KnownEventKind reports whether k is part of the accepted vocabulary.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventIncomingCall, EventCallInitiated, EventCallEstablishing,
		EventCallEstablished, EventParticipantsUpdated,
		EventCallTerminating, EventCallTerminated:
		return true
	default:
		return false
	}
}
