// Package registry resolves stored outbox rows into typed device events and
// the topic they are published on.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox/payloads"
)

// EventDescriptor is the registered route for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, string, error)
}

// ResolvedEvent is a row that passed validation and decoded cleanly.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.Envelope
	Payload    any
	// OrderingKey groups the events of one device.
	OrderingKey string
}

// NonRetryableError marks rows that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// ordered is implemented by every payload in the payloads package.
type ordered interface {
	OrderingKey() string
}

// typed decodes into *T; T's pointer receiver set must cover ordered.
func typed[T any, PT interface {
	*T
	ordered
}]() func(json.RawMessage) (any, string, error) {
	return func(raw json.RawMessage) (any, string, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, "", err
		}
		p := PT(&v)
		return p, p.OrderingKey(), nil
	}
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every device event to the device events topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.DeviceEventsTopic
	if topic == "" {
		return nil, errors.New("device events topic is required")
	}

	enrolled := typed[payloads.DeviceEnrolledEvent]()
	command := typed[payloads.DeviceCommandEvent]()
	released := typed[payloads.DeviceReleasedEvent]()

	reg := &EventRegistry{routes: map[enums.OutboxEventType]EventDescriptor{}}
	reg.add(enums.EventDeviceEnrolled, enums.AggregateDevice, topic, enrolled)
	reg.add(enums.EventDeviceReenrolled, enums.AggregateDevice, topic, enrolled)
	reg.add(enums.EventDeviceLocked, enums.AggregateDevice, topic, command)
	reg.add(enums.EventDeviceUnlocked, enums.AggregateDevice, topic, command)
	reg.add(enums.EventDeviceReleased, enums.AggregateLicense, topic, released)
	return reg, nil
}

func (r *EventRegistry) add(event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string, decode func(json.RawMessage) (any, string, error)) {
	r.routes[event] = EventDescriptor{EventType: event, AggregateType: aggregate, Topic: topic, decode: decode}
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	case route.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("%s expects aggregate %s, row has %s", event.EventType, route.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, err
	}
	payload, key, err := route.decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: route, Envelope: env, Payload: payload, OrderingKey: key}, nil
}
