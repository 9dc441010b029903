package enums

import "slices"

// Role identifies the authenticated principal kind carried in access tokens.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleReseller   Role = "reseller"
)

var validRoles = []Role{
	RoleSuperAdmin,
	RoleReseller,
}

func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	return slices.Contains(validRoles, r)
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	return parse(value, validRoles, "role")
}
