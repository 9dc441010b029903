package auth

import (
	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// LoginRequest carries the credentials posted to either login endpoint.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
}

// Principal describes the authenticated account returned after login.
type Principal struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Role         enums.Role `json:"role"`
	BusinessName *string    `json:"business_name,omitempty"`
}

// LoginResponse contains the token pair and the principal.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         Principal `json:"user"`
}
