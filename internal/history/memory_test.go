package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"callhub/internal/session"
)

func TestMemoryRecorder_AppendRequiresCallAndKind(t *testing.T) {
	r := NewMemoryRecorder()

	if _, err := r.Append(context.Background(), "", session.EventCallEstablished, nil); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
	if _, err := r.Append(context.Background(), "c1", "", nil); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestMemoryRecorder_SequencesPerCall(t *testing.T) {
	r := NewMemoryRecorder()

	for i := 1; i <= 3; i++ {
		seq, err := r.Append(context.Background(), "a", session.EventCallEstablished, nil)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, seq)
		}
	}

	// Sequences are independent per call.
	seq, err := r.Append(context.Background(), "b", session.EventIncomingCall, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected seq 1 for new call, got %d", seq)
	}
}

func TestMemoryRecorder_ConcurrentAppendsGapFree(t *testing.T) {
	r := NewMemoryRecorder()

	const appends = 50
	var wg sync.WaitGroup
	for i := 0; i < appends; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Append(context.Background(), "c1", session.EventParticipantsUpdated, nil); err != nil {
				t.Errorf("append failed: %v", err)
			}
		}()
	}
	wg.Wait()

	entries, err := r.ListForCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(entries) != appends {
		t.Fatalf("expected %d entries, got %d", appends, len(entries))
	}
	for i, e := range entries {
		if e.Seq != int64(i)+1 {
			t.Fatalf("expected contiguous seq at index %d, got %d", i, e.Seq)
		}
	}
}

func TestMemoryRecorder_SnapshotsPayload(t *testing.T) {
	r := NewMemoryRecorder()

	raw := json.RawMessage(`{"reason":"busy"}`)
	if _, err := r.Append(context.Background(), "c1", session.EventCallTerminated, raw); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	raw[2] = 'X'

	entries, _ := r.ListForCall(context.Background(), "c1")
	if string(entries[0].Payload) != `{"reason":"busy"}` {
		t.Fatalf("payload snapshot mutated: %s", entries[0].Payload)
	}
	if entries[0].ID == "" {
		t.Fatalf("expected entry id assigned")
	}
}

func TestMemoryRecorder_ListUnknownCallIsEmpty(t *testing.T) {
	r := NewMemoryRecorder()

	entries, err := r.ListForCall(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history")
	}
}
