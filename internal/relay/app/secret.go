package app

import "unicode"

// ValidSecretToken reports whether the shared webhook secret is strong
// enough to register with the gateway: longer than 15 characters with
// upper-case, lower-case, and digit classes all present.
func ValidSecretToken(token string) bool {
	if len(token) <= 15 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range token {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
