package devices

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// DeviceDTO is the API view of a device and its license.
type DeviceDTO struct {
	ID              uuid.UUID            `json:"id"`
	IMEI            string               `json:"imei"`
	ResellerID      uuid.UUID            `json:"reseller_id"`
	ResellerName    *string              `json:"reseller_name,omitempty"`
	LicenseID       *uuid.UUID           `json:"license_id,omitempty"`
	LicenseKey      *string              `json:"license_key,omitempty"`
	LicenseStatus   *enums.LicenseStatus `json:"license_status,omitempty"`
	Status          enums.DeviceStatus   `json:"status"`
	IsOnline        bool                 `json:"is_online"`
	LastConnection  *time.Time           `json:"last_connection,omitempty"`
	LastLocationLat *float64             `json:"last_location_lat,omitempty"`
	LastLocationLon *float64             `json:"last_location_lon,omitempty"`
	BatteryLevel    *int                 `json:"battery_level,omitempty"`
	NetworkType     *string              `json:"network_type,omitempty"`
	ClientName      *string              `json:"client_name,omitempty"`
	ClientPhone     *string              `json:"client_phone,omitempty"`
	EnrolledAt      time.Time            `json:"enrolled_at"`
}

// ListResult is one page of devices.
type ListResult struct {
	Devices    []DeviceDTO `json:"devices"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// Counts summarizes devices per status.
type Counts struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Locked   int64 `json:"locked"`
	Released int64 `json:"released"`
	Online   int64 `json:"online"`
}

// CommandResult reports a lock or unlock that was queued for the device.
type CommandResult struct {
	DeviceID  uuid.UUID          `json:"device_id"`
	Status    enums.DeviceStatus `json:"status"`
	CommandID uuid.UUID          `json:"command_id"`
	Message   string             `json:"message,omitempty"`
}

// ReleaseResult reports a released device.
type ReleaseResult struct {
	DeviceID  uuid.UUID `json:"device_id"`
	IMEI      string    `json:"imei"`
	LicenseID uuid.UUID `json:"license_id"`
	Note      string    `json:"note"`
}

func toDTO(row Row) DeviceDTO {
	return DeviceDTO{
		ID:              row.ID,
		IMEI:            row.IMEI,
		ResellerID:      row.ResellerID,
		ResellerName:    row.ResellerName,
		LicenseID:       row.LicenseID,
		LicenseKey:      row.LicenseKey,
		LicenseStatus:   row.LicenseStatus,
		Status:          row.Status,
		IsOnline:        row.IsOnline,
		LastConnection:  row.LastConnection,
		LastLocationLat: row.LastLocationLat,
		LastLocationLon: row.LastLocationLon,
		BatteryLevel:    row.BatteryLevel,
		NetworkType:     row.NetworkType,
		ClientName:      row.ClientName,
		ClientPhone:     row.ClientPhone,
		EnrolledAt:      row.EnrolledAt,
	}
}
