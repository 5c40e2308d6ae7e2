package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"callhub/internal/session"
)

// Notification is one unit of an inbound webhook batch. The platform payload
// is carried verbatim in Payload; the core only normalizes the fields it
// needs to route and transition.
type Notification struct {
	CallID string            `json:"call_id"`
	Kind   session.EventKind `json:"kind"`

	ResourceURL   string `json:"resource_url,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Caller and Callee are set for incoming_call notifications.
	Caller string `json:"caller,omitempty"`
	Callee string `json:"callee,omitempty"`

	Participants []session.Participant `json:"participants,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// Batch is a validated set of notifications. Order within the batch is the
// platform's arrival order and must be preserved per call.
type Batch struct {
	TenantID      string
	Notifications []Notification
}

var (
	ErrAuth       = errors.New("notify: authentication failed")
	ErrBadPayload = errors.New("notify: malformed notification payload")
)

// batchEnvelope mirrors the platform's webhook body.
type batchEnvelope struct {
	Value []Notification `json:"value"`
}

// ParseBatch decodes and checks the webhook body. It does not authenticate;
// Validator does both in order.
func ParseBatch(body []byte) ([]Notification, error) {
	var env batchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(env.Value) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrBadPayload)
	}
	for i, n := range env.Value {
		if n.CallID == "" {
			return nil, fmt.Errorf("%w: notification %d missing call_id", ErrBadPayload, i)
		}
		if !session.KnownEventKind(n.Kind) {
			return nil, fmt.Errorf("%w: notification %d has unknown kind %q", ErrBadPayload, i, n.Kind)
		}
	}
	return env.Value, nil
}
