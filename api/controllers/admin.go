package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	"github.com/mdmvenezuela/mdm-backend/api/validators"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/resellers"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type resellerAdmin interface {
	Create(ctx context.Context, input resellers.CreateInput) (*resellers.CreateResult, error)
	List(ctx context.Context) ([]resellers.Summary, error)
	AddLicenses(ctx context.Context, resellerID uuid.UUID, quantity int) (*resellers.AddLicensesResult, error)
	Toggle(ctx context.Context, resellerID uuid.UUID) (*resellers.ResellerDTO, error)
	AdminDashboard(ctx context.Context) (*resellers.AdminDashboard, error)
}

type deviceLister interface {
	List(ctx context.Context, actor types.Actor, input devices.ListInput) (*devices.ListResult, error)
}

// AdminDashboard returns platform wide counters.
func AdminDashboard(svc resellerAdmin, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		dashboard, err := svc.AdminDashboard(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}

// AdminCreateReseller opens a reseller account with its initial license pool.
func AdminCreateReseller(svc resellerAdmin, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body resellers.CreateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Create(r.Context(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// AdminListResellers lists every reseller with license and device tallies.
func AdminListResellers(svc resellerAdmin, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"resellers": list})
	}
}

// AdminAddLicenses grows a reseller's pool.
func AdminAddLicenses(svc resellerAdmin, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resellerID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body resellers.AddLicensesInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AddLicenses(r.Context(), resellerID, body.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminToggleReseller flips a reseller between active and suspended.
func AdminToggleReseller(svc resellerAdmin, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("reseller service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resellerID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reseller, err := svc.Toggle(r.Context(), resellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reseller)
	}
}

// AdminListDevices pages through devices across all resellers.
func AdminListDevices(svc deviceLister, logg *logger.Logger) http.HandlerFunc {
	return listDevices(svc, logg)
}

func listDevices(svc deviceLister, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("device service", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := deviceListInput(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
