package licenses

import (
	"strings"

	"github.com/google/uuid"
)

const keyPrefix = "LIC-"

// GenerateKey returns an opaque license key of the form LIC-XXXXXXXX-XXXX-XXXX
// drawn from a random (v4) UUID.
func GenerateKey() string {
	return keyPrefix + strings.ToUpper(uuid.NewString()[:18])
}
