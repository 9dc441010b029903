package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	"github.com/mdmvenezuela/mdm-backend/api/validators"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/resellers"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type resellerDashboard interface {
	ResellerDashboard(ctx context.Context, resellerID uuid.UUID) (*resellers.ResellerDashboard, error)
}

type tokenMinter interface {
	MintEnrollmentToken(ctx context.Context, resellerID uuid.UUID) (*enrollment.MintResult, error)
}

type deviceOperator interface {
	Get(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.DeviceDTO, error)
	Lock(ctx context.Context, actor types.Actor, deviceID uuid.UUID, message string) (*devices.CommandResult, error)
	Unlock(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.CommandResult, error)
	Release(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.ReleaseResult, error)
}

type locationHistory interface {
	History(ctx context.Context, actor types.Actor, deviceID uuid.UUID, days int) ([]telemetry.LocationDTO, error)
}

type lockRequest struct {
	Message string `json:"message" validate:"max=500"`
}

// ResellerDashboard returns the caller's profile and counters.
func ResellerDashboard(svc resellerDashboard, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dashboard, err := svc.ResellerDashboard(r.Context(), actor.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}

// ResellerGenerateQR mints an enrollment token against one of the caller's
// available licenses and returns the provisioning QR.
func ResellerGenerateQR(svc tokenMinter, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("token issuer", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.MintEnrollmentToken(r.Context(), actor.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// ResellerListDevices pages through the caller's devices.
func ResellerListDevices(svc deviceLister, logg *logger.Logger) http.HandlerFunc {
	return listDevices(svc, logg)
}

// ResellerDeviceDetail returns one owned device.
func ResellerDeviceDetail(svc deviceOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deviceID, ok := deviceRequest(w, r, svc != nil, logg)
		if !ok {
			return
		}
		device, err := svc.Get(r.Context(), actor, deviceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, device)
	}
}

// ResellerLockDevice queues a LOCK command. The body is optional.
func ResellerLockDevice(svc deviceOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deviceID, ok := deviceRequest(w, r, svc != nil, logg)
		if !ok {
			return
		}
		var body lockRequest
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Lock(r.Context(), actor, deviceID, validators.SanitizeString(body.Message, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ResellerUnlockDevice queues an UNLOCK command.
func ResellerUnlockDevice(svc deviceOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deviceID, ok := deviceRequest(w, r, svc != nil, logg)
		if !ok {
			return
		}
		result, err := svc.Unlock(r.Context(), actor, deviceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ResellerReleaseDevice releases the device and binds its license to the IMEI.
func ResellerReleaseDevice(svc deviceOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deviceID, ok := deviceRequest(w, r, svc != nil, logg)
		if !ok {
			return
		}
		result, err := svc.Release(r.Context(), actor, deviceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ResellerLocationHistory returns ?days=N of positions, newest first.
func ResellerLocationHistory(svc locationHistory, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, deviceID, ok := deviceRequest(w, r, svc != nil, logg)
		if !ok {
			return
		}
		days, err := validators.ParseQueryInt(r, "days", telemetry.DefaultHistoryDays, 1, telemetry.MaxHistoryDays)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		history, err := svc.History(r.Context(), actor, deviceID, days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"device_id": deviceID, "days": days, "locations": history})
	}
}

func deviceRequest(w http.ResponseWriter, r *http.Request, available bool, logg *logger.Logger) (types.Actor, uuid.UUID, bool) {
	if !available {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "device service unavailable"))
		return types.Actor{}, uuid.Nil, false
	}
	actor, err := requireActor(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return types.Actor{}, uuid.Nil, false
	}
	deviceID, err := validators.ParseUUIDParam(r, "id")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return types.Actor{}, uuid.Nil, false
	}
	return actor, deviceID, true
}
