package enums

import "slices"

// OutboxAggregateType and OutboxEventType mirror the aggregate_type_enum
// and event_type_enum Postgres types.
type (
	OutboxAggregateType string
	OutboxEventType     string
)

const (
	AggregateDevice  OutboxAggregateType = "device"
	AggregateLicense OutboxAggregateType = "license"
)

const (
	EventDeviceEnrolled   OutboxEventType = "device_enrolled"
	EventDeviceReenrolled OutboxEventType = "device_reenrolled"
	EventDeviceLocked     OutboxEventType = "device_locked"
	EventDeviceUnlocked   OutboxEventType = "device_unlocked"
	EventDeviceReleased   OutboxEventType = "device_released"
)

var (
	aggregateTypes = []OutboxAggregateType{AggregateDevice, AggregateLicense}
	eventTypes     = []OutboxEventType{
		EventDeviceEnrolled,
		EventDeviceReenrolled,
		EventDeviceLocked,
		EventDeviceUnlocked,
		EventDeviceReleased,
	}
)

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, aggregateTypes, "aggregate type")
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, eventTypes, "event type")
}

// OutboxDLQErrorReason says why a row left the relay for outbox_dlq.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: Pub/Sub kept failing until the retry budget ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the row can never be published as stored.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
