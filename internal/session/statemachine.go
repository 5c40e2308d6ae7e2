package session

import "time"

// Event is a normalized notification after validation, plus the redirect
// disposition resolved by the caller for incoming calls. Apply is a pure
// function over (Session, Event); all I/O stays with the dispatcher.

type Event struct {
	Kind EventKind

	ResourceURL   string
	CorrelationID string

	// Participants is the full roster for EventParticipantsUpdated.
	Participants []Participant

	// Disposition applies to EventIncomingCall only.
	Disposition    Disposition
	RedirectTarget string

	// MediaResource, when set, is played once the call is established.
	MediaResource string
}

// Disposition is the redirect policy outcome for an incoming call.
type Disposition string

const (
	DispositionAccept  Disposition = "accept"
	DispositionReject  Disposition = "reject"
	DispositionForward Disposition = "forward"
)

// Transition is the result of applying one event to a session.
//
// Changed is false for no-op events (unmapped kind for the current state, or
// any event on a terminated call). Callers must still record no-ops to
// history; they just skip the store write-back.
type Transition struct {
	Next     Session
	Commands []Command
	Changed  bool
}

type transitionFunc func(s Session, ev Event) (Session, []Command)

// transitions is the table keyed by (current state, event kind). Pairs not
// present here are deliberate no-ops, not errors.
var transitions = map[State]map[EventKind]transitionFunc{
	// Idle also maps mid-call kinds so a call first seen mid-flight (for
	// example after a restart on the in-memory backend) is recreated in the
	// right state instead of dropped.
	StateIdle: {
		EventIncomingCall:     onIncomingCall,
		EventCallInitiated:    onCallInitiated,
		EventCallEstablishing: onEstablishing,
		EventCallEstablished:  onEstablished,
		EventCallTerminating:  onTerminating,
		EventCallTerminated:   onTerminated,
	},
	StateIncoming: {
		EventCallEstablishing:    onEstablishing,
		EventCallEstablished:     onEstablished,
		EventParticipantsUpdated: onParticipants,
		EventCallTerminating:     onTerminating,
		EventCallTerminated:      onTerminated,
	},
	StateInitiating: {
		EventCallEstablishing:    onEstablishing,
		EventCallEstablished:     onEstablished,
		EventParticipantsUpdated: onParticipants,
		EventCallTerminating:     onTerminating,
		EventCallTerminated:      onTerminated,
	},
	StateEstablishing: {
		EventCallEstablished:     onEstablished,
		EventParticipantsUpdated: onParticipants,
		EventCallTerminating:     onTerminating,
		EventCallTerminated:      onTerminated,
	},
	StateEstablished: {
		EventParticipantsUpdated: onParticipants,
		EventCallTerminating:     onTerminating,
		EventCallTerminated:      onTerminated,
	},
	StateRedirecting: {
		EventCallTerminating: onTerminating,
		EventCallTerminated:  onTerminated,
	},
	StateTerminating: {
		EventCallTerminated: onTerminated,
	},
	// StateTerminated accepts nothing.
}

// New returns an unpersisted session for a callId seen for the first time.
func New(callID, tenantID string, now time.Time) Session {
	return Session{
		CallID:    callID,
		TenantID:  tenantID,
		State:     StateIdle,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Apply runs one event through the transition table.
//
// Events on a terminated call and unmapped (state, kind) pairs return the
// session unchanged with Changed == false.
func Apply(s Session, ev Event, now time.Time) Transition {
	if s.State.Terminal() {
		return Transition{Next: s}
	}
	byKind, ok := transitions[s.State]
	if !ok {
		return Transition{Next: s}
	}
	fn, ok := byKind[ev.Kind]
	if !ok {
		return Transition{Next: s}
	}

	next, cmds := fn(s, ev)
	if ev.ResourceURL != "" {
		next.ResourceURL = ev.ResourceURL
	}
	if ev.CorrelationID != "" {
		next.CorrelationID = ev.CorrelationID
	}
	next.UpdatedAt = now.UTC()
	return Transition{Next: next, Commands: cmds, Changed: true}
}

func onIncomingCall(s Session, ev Event) (Session, []Command) {
	s.Direction = DirectionIncoming
	if len(ev.Participants) > 0 {
		s.Participants = ev.Participants
	}
	switch ev.Disposition {
	case DispositionReject:
		s.State = StateTerminating
		return s, []Command{{Kind: CommandTerminate, CallID: s.CallID, ResourceURL: ev.ResourceURL}}
	case DispositionForward:
		s.State = StateRedirecting
		return s, []Command{{Kind: CommandRedirect, CallID: s.CallID, ResourceURL: ev.ResourceURL, Target: ev.RedirectTarget}}
	default:
		s.State = StateIncoming
		return s, []Command{{Kind: CommandAnswer, CallID: s.CallID, ResourceURL: ev.ResourceURL}}
	}
}

func onCallInitiated(s Session, ev Event) (Session, []Command) {
	s.Direction = DirectionOutgoing
	s.State = StateInitiating
	return s, nil
}

func onEstablishing(s Session, ev Event) (Session, []Command) {
	s.State = StateEstablishing
	return s, nil
}

func onEstablished(s Session, ev Event) (Session, []Command) {
	s.State = StateEstablished
	if ev.MediaResource != "" {
		return s, []Command{{Kind: CommandPlayMedia, CallID: s.CallID, ResourceURL: ev.ResourceURL, MediaResource: ev.MediaResource}}
	}
	return s, nil
}

func onParticipants(s Session, ev Event) (Session, []Command) {
	s.Participants = ev.Participants
	return s, nil
}

func onTerminating(s Session, ev Event) (Session, []Command) {
	s.State = StateTerminating
	return s, nil
}

func onTerminated(s Session, ev Event) (Session, []Command) {
	s.State = StateTerminated
	return s, nil
}
