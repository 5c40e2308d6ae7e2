package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"callhub/internal/history"
	"callhub/internal/notify"
	"callhub/internal/redirect"
	"callhub/internal/session"
	"callhub/internal/store"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestDispatcher(st store.Store, pol redirect.Policy) (*Dispatcher, *history.MemoryRecorder) {
	rec := history.NewMemoryRecorder()
	d := New(st, rec, pol, nil)
	d.clock = func() time.Time { return testNow }
	d.backoff = time.Millisecond
	return d, rec
}

func batchOf(ns ...notify.Notification) notify.Batch {
	return notify.Batch{TenantID: "tenant1", Notifications: ns}
}

func TestHandle_IncomingThenEstablished(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec := newTestDispatcher(st, nil)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall, ResourceURL: "/calls/A"},
		notify.Notification{CallID: "A", Kind: session.EventCallEstablished},
	))
	if res.Failed() != 0 {
		t.Fatalf("expected no failures: %+v", res.Results)
	}

	s, err := st.Get(context.Background(), "A")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s.State != session.StateEstablished {
		t.Fatalf("expected established, got %s", s.State)
	}

	entries, _ := rec.ListForCall(context.Background(), "A")
	if len(entries) != 2 || entries[0].Seq != 1 || entries[1].Seq != 2 {
		t.Fatalf("expected history seq 1,2, got %+v", entries)
	}

	for _, c := range res.Commands() {
		if c.Kind == session.CommandTerminate {
			t.Fatalf("unexpected terminate command")
		}
	}
	if len(res.Commands()) != 1 || res.Commands()[0].Kind != session.CommandAnswer {
		t.Fatalf("expected single answer command, got %+v", res.Commands())
	}
}

func TestHandle_IdempotentReplay(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec := newTestDispatcher(st, nil)

	n := notify.Notification{CallID: "A", Kind: session.EventIncomingCall}
	d.Handle(context.Background(), batchOf(n))
	d.Handle(context.Background(), batchOf(n))

	s, _ := st.Get(context.Background(), "A")
	if s.State != session.StateIncoming {
		t.Fatalf("replay changed state: %s", s.State)
	}
	if s.Version != 1 {
		t.Fatalf("replay must not rewrite the session, version %d", s.Version)
	}

	entries, _ := rec.ListForCall(context.Background(), "A")
	if len(entries) != 2 {
		t.Fatalf("both deliveries belong in history, got %d", len(entries))
	}
	if entries[0].Seq == entries[1].Seq {
		t.Fatalf("history entries must have distinct seq")
	}
}

func TestHandle_TerminatedIsImmutable(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec := newTestDispatcher(st, nil)

	d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall},
		notify.Notification{CallID: "A", Kind: session.EventCallTerminated},
	))

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventCallEstablished},
		notify.Notification{CallID: "A", Kind: session.EventParticipantsUpdated},
	))
	if res.Failed() != 0 {
		t.Fatalf("late notifications are not errors: %+v", res.Results)
	}

	s, _ := st.Get(context.Background(), "A")
	if s.State != session.StateTerminated {
		t.Fatalf("terminated call mutated to %s", s.State)
	}

	entries, _ := rec.ListForCall(context.Background(), "A")
	if len(entries) != 4 {
		t.Fatalf("late notifications must still be recorded, got %d", len(entries))
	}
}

func TestHandle_RejectPolicyTerminates(t *testing.T) {
	st := store.NewMemoryStore()
	pol := redirect.NewRulePolicy([]redirect.Rule{
		{CallerPrefix: "+1900", Action: redirect.ActionReject, Reason: "premium_blocked"},
	}, redirect.Decision{})
	d, _ := newTestDispatcher(st, pol)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall, Caller: "+19005551234"},
	))

	cmds := res.Commands()
	if len(cmds) != 1 || cmds[0].Kind != session.CommandTerminate {
		t.Fatalf("expected terminate, got %+v", cmds)
	}
	s, _ := st.Get(context.Background(), "A")
	if s.State != session.StateTerminating {
		t.Fatalf("expected terminating, got %s", s.State)
	}
}

func TestHandle_ForwardPolicyRedirects(t *testing.T) {
	st := store.NewMemoryStore()
	pol := redirect.NewRulePolicy([]redirect.Rule{
		{CalleePrefix: "+1555", Action: redirect.ActionForward, Target: "sip:frontdesk@pbx"},
	}, redirect.Decision{})
	d, _ := newTestDispatcher(st, pol)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall, Caller: "+14155551234", Callee: "+15559990000"},
	))

	cmds := res.Commands()
	if len(cmds) != 1 || cmds[0].Kind != session.CommandRedirect || cmds[0].Target != "sip:frontdesk@pbx" {
		t.Fatalf("expected redirect to frontdesk, got %+v", cmds)
	}
	s, _ := st.Get(context.Background(), "A")
	if s.State != session.StateRedirecting {
		t.Fatalf("expected redirecting, got %s", s.State)
	}
}

func TestHandle_GreetingPlayedOnEstablished(t *testing.T) {
	st := store.NewMemoryStore()
	d, _ := newTestDispatcher(st, nil)
	d.Greeting = "welcome.wav"

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall},
		notify.Notification{CallID: "A", Kind: session.EventCallEstablished},
	))

	var played bool
	for _, c := range res.Commands() {
		if c.Kind == session.CommandPlayMedia && c.MediaResource == "welcome.wav" {
			played = true
		}
	}
	if !played {
		t.Fatalf("expected greeting played, got %+v", res.Commands())
	}
}

// racingStore injects one synthetic conflict per call to simulate a
// concurrent writer on a shared durable backend.
type racingStore struct {
	store.Store
	mu     sync.Mutex
	raced  map[string]bool
	raceFn func(callID string)
}

func (r *racingStore) Upsert(ctx context.Context, s session.Session, expectedVersion int64) (int64, error) {
	r.mu.Lock()
	first := !r.raced[s.CallID]
	r.raced[s.CallID] = true
	r.mu.Unlock()
	if first {
		r.raceFn(s.CallID)
		return 0, store.ErrConflict
	}
	return r.Store.Upsert(ctx, s, expectedVersion)
}

func TestHandle_ConflictReloadsAndRetries(t *testing.T) {
	mem := store.NewMemoryStore()
	rs := &racingStore{
		Store: mem,
		raced: make(map[string]bool),
		raceFn: func(callID string) {
			// The racing writer moved the call to incoming first.
			s := session.New(callID, "tenant1", testNow)
			s.State = session.StateIncoming
			if _, err := mem.Upsert(context.Background(), s, 0); err != nil {
				panic(err)
			}
		},
	}
	d, rec := newTestDispatcher(rs, nil)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "B", Kind: session.EventCallEstablished},
	))
	if res.Failed() != 0 {
		t.Fatalf("expected retry to succeed: %+v", res.Results)
	}

	s, _ := mem.Get(context.Background(), "B")
	if s.State != session.StateEstablished {
		t.Fatalf("expected transition re-run on fresher base, got %s", s.State)
	}
	if s.Version != 2 {
		t.Fatalf("expected version 2, got %d", s.Version)
	}

	entries, _ := rec.ListForCall(context.Background(), "B")
	if len(entries) != 1 {
		t.Fatalf("retry must not duplicate history, got %d entries", len(entries))
	}
}

// flakyStore fails call ids in the deny set with ErrUnavailable.
type flakyStore struct {
	store.Store
	deny map[string]bool
}

func (f *flakyStore) Get(ctx context.Context, callID string) (session.Session, error) {
	if f.deny[callID] {
		return session.Session{}, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	}
	return f.Store.Get(ctx, callID)
}

func TestHandle_PartialFailureIsPerNotification(t *testing.T) {
	mem := store.NewMemoryStore()
	fs := &flakyStore{Store: mem, deny: map[string]bool{"bad": true}}
	d, rec := newTestDispatcher(fs, nil)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "good", Kind: session.EventIncomingCall},
		notify.Notification{CallID: "bad", Kind: session.EventIncomingCall},
	))

	if res.Failed() != 1 {
		t.Fatalf("expected exactly one failure, got %d", res.Failed())
	}
	if res.Results[0].Err != nil {
		t.Fatalf("good call must succeed: %v", res.Results[0].Err)
	}
	if !errors.Is(res.Results[1].Err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable surfaced, got %v", res.Results[1].Err)
	}

	if _, err := mem.Get(context.Background(), "good"); err != nil {
		t.Fatalf("good call not stored: %v", err)
	}
	entries, _ := rec.ListForCall(context.Background(), "good")
	if len(entries) != 1 {
		t.Fatalf("expected history for good call")
	}
}

func TestHandle_DistinctCallsRunConcurrently(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec := newTestDispatcher(st, nil)

	var ns []notify.Notification
	const calls = 20
	for i := 0; i < calls; i++ {
		id := fmt.Sprintf("c%d", i)
		ns = append(ns,
			notify.Notification{CallID: id, Kind: session.EventIncomingCall},
			notify.Notification{CallID: id, Kind: session.EventCallEstablished},
			notify.Notification{CallID: id, Kind: session.EventCallTerminated},
		)
	}

	res := d.Handle(context.Background(), batchOf(ns...))
	if res.Failed() != 0 {
		t.Fatalf("expected no failures")
	}

	for i := 0; i < calls; i++ {
		id := fmt.Sprintf("c%d", i)
		s, err := st.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("call %s missing: %v", id, err)
		}
		if s.State != session.StateTerminated {
			t.Fatalf("call %s ended in %s", id, s.State)
		}
		entries, _ := rec.ListForCall(context.Background(), id)
		if len(entries) != 3 {
			t.Fatalf("call %s has %d history entries", id, len(entries))
		}
		for j, e := range entries {
			if e.Seq != int64(j)+1 {
				t.Fatalf("call %s history not contiguous: %+v", id, entries)
			}
		}
	}
}

func TestHandle_OrderPreservedWithinCall(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec := newTestDispatcher(st, nil)

	res := d.Handle(context.Background(), batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall},
		notify.Notification{CallID: "B", Kind: session.EventIncomingCall},
		notify.Notification{CallID: "A", Kind: session.EventCallEstablishing},
		notify.Notification{CallID: "A", Kind: session.EventCallEstablished},
	))
	if res.Failed() != 0 {
		t.Fatalf("expected no failures")
	}

	entries, _ := rec.ListForCall(context.Background(), "A")
	want := []session.EventKind{
		session.EventIncomingCall,
		session.EventCallEstablishing,
		session.EventCallEstablished,
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, k := range want {
		if entries[i].EventKind != k {
			t.Fatalf("entry %d: expected %s, got %s", i, k, entries[i].EventKind)
		}
	}
}

func TestHandle_CancelledContextFailsFast(t *testing.T) {
	st := store.NewMemoryStore()
	d, _ := newTestDispatcher(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Handle(ctx, batchOf(
		notify.Notification{CallID: "A", Kind: session.EventIncomingCall},
	))
	if res.Failed() != 1 {
		t.Fatalf("expected failure on cancelled context")
	}
	if !errors.Is(res.Results[0].Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Results[0].Err)
	}
}
