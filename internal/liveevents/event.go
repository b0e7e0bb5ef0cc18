package liveevents

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeProfileUpdated   = "profile.updated"
	TypePaymentSubmitted = "payment.submitted"
	TypePaymentApproved  = "payment.approved"
	TypeSessionClosed    = "session.closed"
	TypeSnapshot         = "snapshot"
)

// Event is the unit delivered to streams. Data is the full current state of
// the record the event is about, so clients replace rather than merge.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
	Origin     string          `json:"origin,omitempty"`
}

func ProfileTopic(uid string) string       { return "profile:" + uid }
func UserPaymentsTopic(uid string) string  { return "payments:" + uid }
func SessionTopic(sessionID string) string { return "session:" + sessionID }

const AllPaymentsTopic = "payments"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewEvent marshals data and stamps the event with a sortable id.
func NewEvent(topic, eventType string, at time.Time, data any) (Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
		}
		raw = b
	}
	return Event{
		ID:         newID(at),
		Type:       eventType,
		Topic:      topic,
		OccurredAt: at.UTC(),
		Data:       raw,
	}, nil
}
