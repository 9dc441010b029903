package payloads

import (
	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// DeviceEnrolledEvent is emitted when a token is redeemed, for first
// enrollments and IMEI-linked re-enrollments alike.
type DeviceEnrolledEvent struct {
	DeviceID   uuid.UUID `json:"device_id"`
	ResellerID uuid.UUID `json:"reseller_id"`
	LicenseID  uuid.UUID `json:"license_id"`
	IMEI       string    `json:"imei"`
	Reenrolled bool      `json:"reenrolled"`
}

// DeviceCommandEvent records an administrator lock or unlock.
type DeviceCommandEvent struct {
	DeviceID    uuid.UUID          `json:"device_id"`
	ResellerID  uuid.UUID          `json:"reseller_id"`
	CommandID   uuid.UUID          `json:"command_id"`
	CommandType enums.CommandType  `json:"command_type"`
	Status      enums.DeviceStatus `json:"status"`
	Message     string             `json:"message,omitempty"`
}

// DeviceReleasedEvent records the license being bound to the device's IMEI.
type DeviceReleasedEvent struct {
	DeviceID   uuid.UUID `json:"device_id"`
	ResellerID uuid.UUID `json:"reseller_id"`
	LicenseID  uuid.UUID `json:"license_id"`
	IMEI       string    `json:"imei"`
}

// OrderingKey groups a device's events so subscribers see them in commit order.
func (e DeviceEnrolledEvent) OrderingKey() string { return e.DeviceID.String() }

func (e DeviceCommandEvent) OrderingKey() string { return e.DeviceID.String() }

func (e DeviceReleasedEvent) OrderingKey() string { return e.DeviceID.String() }
