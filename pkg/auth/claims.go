package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	SubjectID uuid.UUID
	Role      enums.Role
	Username  string
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to operators and resellers.
type AccessTokenClaims struct {
	SubjectID uuid.UUID  `json:"sub_id"`
	Role      enums.Role `json:"role"`
	Username  string     `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the identity services scope by.
func (c *AccessTokenClaims) Actor() types.Actor {
	return types.Actor{ID: c.SubjectID, Role: c.Role}
}
