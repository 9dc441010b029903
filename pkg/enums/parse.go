package enums

import (
	"fmt"
	"slices"
)

// parse maps raw input onto one of valid, naming kind in the error.
func parse[T ~string](value string, valid []T, kind string) (T, error) {
	if i := slices.Index(valid, T(value)); i >= 0 {
		return valid[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
