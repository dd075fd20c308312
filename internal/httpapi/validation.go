package httpapi

import (
	"strings"
	"unicode"
)

const maxLoginLen = 255

func normalizeLogin(s string) string {
	return strings.TrimSpace(s)
}

// validLogin accepts Taiga usernames and email addresses.
func validLogin(s string) bool {
	if s == "" || len(s) > maxLoginLen {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
