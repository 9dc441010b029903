package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mdmvenezuela/mdm-backend/api/middleware"
	"github.com/mdmvenezuela/mdm-backend/api/responses"
	"github.com/mdmvenezuela/mdm-backend/api/validators"
	pkgAuth "github.com/mdmvenezuela/mdm-backend/pkg/auth"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type sessionTokenRotator interface {
	Rotate(ctx context.Context, oldAccessID, provided string, actor types.Actor) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthLogout ends the session named by the presented access token. Expired
// tokens are accepted so a client holding a stale token can still sign out.
func AuthLogout(manager sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	if manager == nil {
		return unavailable("session manager", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := presentedClaims(r, cfg)
		if err == nil {
			err = manager.Revoke(r.Context(), claims.ID)
			if err != nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
			}
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// AuthRefresh trades a refresh token for a fresh token pair bound to the
// same subject and role. The old refresh token stops working.
func AuthRefresh(manager sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	if manager == nil {
		return unavailable("session manager", logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body refreshRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		claims, err := presentedClaims(r, cfg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pair, err := rotate(r.Context(), manager, cfg, claims, body.RefreshToken)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pair)
	}
}

func rotate(ctx context.Context, manager sessionTokenRotator, cfg config.JWTConfig, claims *pkgAuth.AccessTokenClaims, presented string) (refreshResponse, error) {
	accessID, refresh, err := manager.Rotate(ctx, claims.ID, presented, claims.Actor())
	switch {
	case errors.Is(err, session.ErrInvalidRefreshToken):
		return refreshResponse{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid refresh token")
	case err != nil:
		return refreshResponse{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}

	access, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		SubjectID: claims.SubjectID,
		Role:      claims.Role,
		Username:  claims.Username,
		JTI:       accessID,
	})
	if err != nil {
		return refreshResponse{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	return refreshResponse{AccessToken: access, RefreshToken: refresh}, nil
}

// presentedClaims reads the bearer token without enforcing expiry; the
// session record, not the JWT lifetime, decides whether it may refresh.
func presentedClaims(r *http.Request, cfg config.JWTConfig) (*pkgAuth.AccessTokenClaims, error) {
	raw, err := middleware.BearerToken(r)
	if err != nil {
		return nil, err
	}
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(cfg, raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	if claims.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id")
	}
	return claims, nil
}
