package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callhub/internal/history"
	"callhub/internal/notify"
	"callhub/internal/redirect"
	"callhub/internal/session"
	"callhub/internal/store"
)

// Dispatcher drives call sessions from validated notification batches.
//
// Serialization model: the call_id is the unit of mutual exclusion.
// Notifications sharing a call_id are processed strictly in arrival order on
// one goroutine; distinct call_ids run concurrently. The store's version
// check catches any writer this process cannot see (other replicas on a
// durable backend), and the dispatcher recovers by reloading and re-running
// the transition.

type Dispatcher struct {
	store   store.Store
	history history.Recorder
	policy  redirect.Policy
	log     *slog.Logger

	// Greeting, when set, is played once an incoming call is established.
	Greeting string

	clock       func() time.Time
	maxAttempts int
	backoff     time.Duration
}

func New(st store.Store, rec history.Recorder, policy redirect.Policy, log *slog.Logger) *Dispatcher {
	if policy == nil {
		policy = redirect.AcceptAll()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:       st,
		history:     rec,
		policy:      policy,
		log:         log,
		clock:       time.Now,
		maxAttempts: 5,
		backoff:     50 * time.Millisecond,
	}
}

// Result is the outcome for one notification. A batch is never atomic:
// every notification succeeds or fails on its own.
type Result struct {
	CallID string            `json:"call_id"`
	Kind   session.EventKind `json:"kind"`

	// Seq is the history sequence number assigned to this notification.
	Seq int64 `json:"seq,omitempty"`

	Commands []session.Command `json:"commands,omitempty"`

	Err error `json:"-"`
}

type BatchResult struct {
	Results []Result
}

// Commands flattens the outbound commands of every successful notification,
// preserving batch order.
func (b BatchResult) Commands() []session.Command {
	var out []session.Command
	for _, r := range b.Results {
		if r.Err == nil {
			out = append(out, r.Commands...)
		}
	}
	return out
}

// Failed counts notifications that could not be applied.
func (b BatchResult) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Handle applies a validated batch and returns per-notification results in
// batch order.
func (d *Dispatcher) Handle(ctx context.Context, batch notify.Batch) BatchResult {
	results := make([]Result, len(batch.Notifications))

	// Partition by call_id, keeping arrival order inside each group.
	order := make([]string, 0, len(batch.Notifications))
	groups := make(map[string][]int)
	for i, n := range batch.Notifications {
		if _, ok := groups[n.CallID]; !ok {
			order = append(order, n.CallID)
		}
		groups[n.CallID] = append(groups[n.CallID], i)
	}

	var wg sync.WaitGroup
	for _, callID := range order {
		indexes := groups[callID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, i := range indexes {
				n := batch.Notifications[i]
				results[i] = d.process(ctx, batch.TenantID, n)
				if results[i].Err != nil {
					d.log.Warn("notification failed",
						"call_id", n.CallID, "kind", string(n.Kind), "err", results[i].Err)
				}
			}
		}()
	}
	wg.Wait()

	return BatchResult{Results: results}
}

// process applies one notification with bounded retries. ErrConflict means a
// concurrent writer landed first: reload and re-run the transition against
// the fresher base. ErrUnavailable backs off before the next attempt.
func (d *Dispatcher) process(ctx context.Context, tenantID string, n notify.Notification) Result {
	res := Result{CallID: n.CallID, Kind: n.Kind}

	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		cur, err := d.store.Get(ctx, n.CallID)
		if errors.Is(err, store.ErrNotFound) {
			// First sight of this call_id: create on demand.
			cur = session.New(n.CallID, tenantID, d.clock())
		} else if err != nil {
			lastErr = err
			if errors.Is(err, store.ErrUnavailable) && d.wait(ctx, attempt) == nil {
				continue
			}
			res.Err = lastErr
			return res
		}

		tr := session.Apply(cur, d.buildEvent(cur, n), d.clock())
		if tr.Changed {
			if _, err := d.store.Upsert(ctx, tr.Next, cur.Version); err != nil {
				lastErr = err
				switch {
				case errors.Is(err, store.ErrConflict):
					continue
				case errors.Is(err, store.ErrUnavailable):
					if d.wait(ctx, attempt) == nil {
						continue
					}
					res.Err = ctx.Err()
					return res
				default:
					res.Err = err
					return res
				}
			}
		}

		// Every notification lands in history, including no-ops and events
		// on terminated calls. The audit trail never drops anything.
		seq, err := d.history.Append(ctx, n.CallID, n.Kind, n.Payload)
		if err != nil {
			res.Commands = tr.Commands
			res.Err = fmt.Errorf("dispatch: history append: %w", err)
			return res
		}

		res.Seq = seq
		res.Commands = tr.Commands
		return res
	}

	res.Err = fmt.Errorf("dispatch: retries exhausted for call %s: %w", n.CallID, lastErr)
	return res
}

// buildEvent normalizes a notification into a state-machine event,
// consulting the redirect policy for incoming calls.
func (d *Dispatcher) buildEvent(cur session.Session, n notify.Notification) session.Event {
	ev := session.Event{
		Kind:          n.Kind,
		ResourceURL:   n.ResourceURL,
		CorrelationID: n.CorrelationID,
		Participants:  n.Participants,
	}

	if n.Kind == session.EventIncomingCall {
		dec := d.policy.Decide(redirect.IncomingCall{
			CallID:   n.CallID,
			TenantID: cur.TenantID,
			Caller:   n.Caller,
			Callee:   n.Callee,
		})
		switch dec.Action {
		case redirect.ActionReject:
			ev.Disposition = session.DispositionReject
		case redirect.ActionForward:
			ev.Disposition = session.DispositionForward
			ev.RedirectTarget = dec.Target
		default:
			ev.Disposition = session.DispositionAccept
		}
	}

	if n.Kind == session.EventCallEstablished && cur.Direction == session.DirectionIncoming {
		ev.MediaResource = d.Greeting
	}
	return ev
}

// wait sleeps with backoff, honoring cancellation.
func (d *Dispatcher) wait(ctx context.Context, attempt int) error {
	t := time.NewTimer(d.backoff * time.Duration(attempt+1))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
