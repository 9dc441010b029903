package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	pkgAuth "github.com/mdmvenezuela/mdm-backend/pkg/auth"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

const bearerScheme = "bearer"

// Auth admits requests carrying a valid access token whose session is
// still live in Redis, and stores the actor on the request context.
// A nil sessions checker skips the liveness lookup.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := authenticate(r.Context(), r, cfg, sessions)
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="mdm"`)
				}
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithActorID(ctx, actor.ID.String()), actor.Role.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(ctx context.Context, r *http.Request, cfg config.JWTConfig, sessions session.AccessSessionChecker) (types.Actor, error) {
	raw, err := BearerToken(r)
	if err != nil {
		return types.Actor{}, err
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, raw)
	switch {
	case errors.Is(err, pkgAuth.ErrExpired):
		return types.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "token expired")
	case err != nil:
		return types.Actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	case claims.ID == "":
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing session id")
	}

	if sessions != nil {
		live, err := sessions.HasSession(ctx, claims.ID)
		if err != nil {
			return types.Actor{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session")
		}
		if !live {
			return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "session revoked")
		}
	}
	return claims.Actor(), nil
}

// BearerToken returns the credentials of an "Authorization: Bearer" header.
// The scheme is case-insensitive; any other scheme is rejected.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	scheme, token, _ := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !strings.EqualFold(scheme, bearerScheme) || token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required")
	}
	return token, nil
}

// RequireRole admits only actors holding one of roles. It must run after Auth.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
