package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	"github.com/mdmvenezuela/mdm-backend/api/validators"
	"github.com/mdmvenezuela/mdm-backend/internal/commands"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

type enrollmentRedeemer interface {
	RedeemEnrollment(ctx context.Context, input enrollment.RedeemInput) (*enrollment.RedeemResult, error)
}

type commandPuller interface {
	Pull(ctx context.Context, deviceID uuid.UUID) ([]commands.Command, error)
}

type telemetrySink interface {
	ReportLocation(ctx context.Context, sample telemetry.LocationSample) error
	Heartbeat(ctx context.Context, deviceID uuid.UUID, batteryLevel *int) error
}

type registerRequest struct {
	Token       string  `json:"token" validate:"required,max=128"`
	IMEI        string  `json:"imei" validate:"required,imei"`
	ClientName  *string `json:"client_name" validate:"omitempty,max=255"`
	ClientPhone *string `json:"client_phone" validate:"omitempty,max=50"`
}

type locationRequest struct {
	DeviceID     uuid.UUID `json:"device_id" validate:"required"`
	Latitude     *float64  `json:"latitude" validate:"required,latitude"`
	Longitude    *float64  `json:"longitude" validate:"required,longitude"`
	BatteryLevel *int      `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
	NetworkType  *string   `json:"network_type" validate:"omitempty,max=20"`
}

type heartbeatRequest struct {
	DeviceID     uuid.UUID `json:"device_id" validate:"required"`
	BatteryLevel *int      `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
}

// DeviceRegister enrolls a device with a scanned token.
func DeviceRegister(svc enrollmentRedeemer, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("enrollment", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RedeemEnrollment(r.Context(), enrollment.RedeemInput{
			Token:       body.Token,
			IMEI:        body.IMEI,
			ClientName:  trimmedOrNil(body.ClientName),
			ClientPhone: trimmedOrNil(body.ClientPhone),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// DeviceLocation records a position sample.
func DeviceLocation(svc telemetrySink, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("telemetry", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body locationRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err := svc.ReportLocation(r.Context(), telemetry.LocationSample{
			DeviceID:     body.DeviceID,
			Latitude:     *body.Latitude,
			Longitude:    *body.Longitude,
			BatteryLevel: body.BatteryLevel,
			NetworkType:  body.NetworkType,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "recorded"})
	}
}

// DeviceCommands hands the device its pending commands. Each command is
// returned by exactly one pull.
func DeviceCommands(svc commandPuller, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("command mailbox", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		deviceID, err := validators.ParseUUIDQuery(r, "device_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cmds, err := svc.Pull(r.Context(), deviceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if cmds == nil {
			cmds = []commands.Command{}
		}
		responses.WriteSuccess(w, map[string]any{"commands": cmds})
	}
}

// DeviceHeartbeat marks the device online.
func DeviceHeartbeat(svc telemetrySink, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("telemetry", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body heartbeatRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Heartbeat(r.Context(), body.DeviceID, body.BatteryLevel); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := validators.SanitizeString(*value, 255)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
