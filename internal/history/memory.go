package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"callhub/internal/session"
)

// MemoryRecorder keeps history in process-local per-call slices. The mutex
// serializes appends, which is what makes sequence numbers gap-free.
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	clock   func() time.Time
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{entries: make(map[string][]Entry), clock: time.Now}
}

func (m *MemoryRecorder) Append(ctx context.Context, callID string, kind session.EventKind, payload json.RawMessage) (int64, error) {
	if callID == "" || kind == "" {
		return 0, ErrInvalidEntry
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq := int64(len(m.entries[callID])) + 1
	e := Entry{
		ID:        uuid.NewString(),
		CallID:    callID,
		Seq:       seq,
		EventKind: kind,
		CreatedAt: m.clock().UTC(),
	}
	if payload != nil {
		e.Payload = append(json.RawMessage(nil), payload...)
	}
	m.entries[callID] = append(m.entries[callID], e)
	return seq, nil
}

func (m *MemoryRecorder) ListForCall(ctx context.Context, callID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.entries[callID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}
