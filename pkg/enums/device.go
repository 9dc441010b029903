package enums

import "slices"

// DeviceStatus maps to the device_status enum in Postgres.
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "ACTIVE"
	DeviceStatusLocked   DeviceStatus = "LOCKED"
	DeviceStatusReleased DeviceStatus = "RELEASED"
)

var validDeviceStatuses = []DeviceStatus{
	DeviceStatusActive,
	DeviceStatusLocked,
	DeviceStatusReleased,
}

func (d DeviceStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeviceStatus.
func (d DeviceStatus) IsValid() bool {
	return slices.Contains(validDeviceStatuses, d)
}

// ParseDeviceStatus converts raw input into a DeviceStatus.
func ParseDeviceStatus(value string) (DeviceStatus, error) {
	return parse(value, validDeviceStatuses, "device status")
}

// DeviceEvent names the lifecycle operations applied to a device.
type DeviceEvent string

const (
	DeviceEventLock     DeviceEvent = "lock"
	DeviceEventUnlock   DeviceEvent = "unlock"
	DeviceEventRelease  DeviceEvent = "release"
	DeviceEventReenroll DeviceEvent = "reenroll"
)

// Lock on LOCKED and unlock on ACTIVE are re-issues: the status holds and the
// command is queued again.
var deviceTransitions = map[DeviceStatus]map[DeviceEvent]DeviceStatus{
	DeviceStatusActive: {
		DeviceEventLock:    DeviceStatusLocked,
		DeviceEventUnlock:  DeviceStatusActive,
		DeviceEventRelease: DeviceStatusReleased,
	},
	DeviceStatusLocked: {
		DeviceEventLock:   DeviceStatusLocked,
		DeviceEventUnlock: DeviceStatusActive,
	},
	DeviceStatusReleased: {
		DeviceEventReenroll: DeviceStatusActive,
	},
}

// Next returns the status reached by applying event, or a *TransitionError
// for pairs the lifecycle does not define.
func (d DeviceStatus) Next(event DeviceEvent) (DeviceStatus, error) {
	if next, ok := deviceTransitions[d][event]; ok {
		return next, nil
	}
	return d, &TransitionError{Entity: "device", From: string(d), Event: string(event)}
}
