package types

import (
	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// Actor is the authenticated operator behind a request.
type Actor struct {
	ID   uuid.UUID
	Role enums.Role
}

// ResellerScope returns the reseller an actor is confined to. Super admins
// are unscoped and get nil.
func (a Actor) ResellerScope() *uuid.UUID {
	if a.Role == enums.RoleSuperAdmin {
		return nil
	}
	id := a.ID
	return &id
}

// IsSuperAdmin reports whether the actor may act across resellers.
func (a Actor) IsSuperAdmin() bool {
	return a.Role == enums.RoleSuperAdmin
}
