package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the current layout of outbox_events.payload.
const EnvelopeVersion = 1

// ActorRef identifies who produced the event. Device-initiated events carry
// no actor.
type ActorRef struct {
	ID   uuid.UUID `json:"id"`
	Role string    `json:"role,omitempty"`
}

// Envelope wraps every event body; the relay publishes it unchanged as the
// Pub/Sub message data.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(data any, actor *ActorRef, version int, at time.Time) ([]byte, Envelope, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if version <= 0 {
		version = EnvelopeVersion
	}
	env := Envelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: at.UTC(),
		Actor:      actor,
		Data:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, env, nil
}

// DecodeEnvelope parses a stored payload and rejects envelopes without a
// body.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if body := bytes.TrimSpace(env.Data); len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Envelope{}, errors.New("envelope has no data")
	}
	return env, nil
}
