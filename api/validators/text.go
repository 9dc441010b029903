package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims, drops control characters and caps s at maxLen
// runes. Client names and lock messages arrive in Spanish, so the cap
// counts runes rather than bytes. maxLen <= 0 means no cap.
func SanitizeString(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if maxLen > 0 {
		if runes := []rune(s); len(runes) > maxLen {
			s = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return s
}
