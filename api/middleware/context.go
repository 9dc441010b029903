package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type contextKey string

const (
	ctxActorID contextKey = "actor_id"
	ctxRole    contextKey = "actor_role"
)

// ActorFromContext returns the authenticated actor seeded by Auth.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	if ctx == nil {
		return types.Actor{}, false
	}
	id, ok := ctx.Value(ctxActorID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return types.Actor{}, false
	}
	role, _ := ctx.Value(ctxRole).(enums.Role)
	return types.Actor{ID: id, Role: role}, true
}

// RoleFromContext returns the authenticated role, or "" when unauthenticated.
func RoleFromContext(ctx context.Context) enums.Role {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(ctxRole).(enums.Role)
	return role
}

// WithActor injects the actor into the context.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actor.ID)
	return context.WithValue(ctx, ctxRole, actor.Role)
}
