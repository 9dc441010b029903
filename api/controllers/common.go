package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/mdmvenezuela/mdm-backend/api/middleware"
	"github.com/mdmvenezuela/mdm-backend/api/responses"
	"github.com/mdmvenezuela/mdm-backend/api/validators"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/pagination"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

// unavailable answers 500 for routes whose backing service was not wired.
func unavailable(service string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, service+" unavailable"))
	}
}

// jsonCall decodes and validates a body of type In, hands it to call and
// writes the result.
func jsonCall[In, Out any](logg *logger.Logger, call func(context.Context, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := validators.DecodeJSONBody(r, &in); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out, err := call(r.Context(), in)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

func requireActor(r *http.Request) (types.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

// deviceListInput reads ?status=&limit=&cursor= into a device listing filter.
func deviceListInput(r *http.Request) (devices.ListInput, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return devices.ListInput{}, err
	}
	input := devices.ListInput{
		Params: pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseDeviceStatus(strings.ToUpper(raw))
		if err != nil {
			return devices.ListInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		input.Status = &status
	}
	return input, nil
}
