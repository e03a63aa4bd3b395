package middleware

import "strings"

// MaskToken shortens a token id for logs (never log the full value in prod).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
