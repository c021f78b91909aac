package logging

import "strings"

// Redact masks a credential, keeping the last four characters.
func Redact(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "bearer ") {
		return "Bearer " + mask(strings.TrimSpace(trimmed[7:]))
	}
	return mask(trimmed)
}

func mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
