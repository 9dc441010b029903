package controllers

import (
	"net/http"

	"github.com/mdmvenezuela/mdm-backend/internal/auth"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

// AdminLogin authenticates a platform operator.
func AdminLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("auth service", logg)
	}
	return jsonCall(logg, svc.OperatorLogin)
}

// ResellerLogin authenticates a reseller account.
func ResellerLogin(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable("auth service", logg)
	}
	return jsonCall(logg, svc.ResellerLogin)
}
