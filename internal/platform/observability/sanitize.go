package observability

import (
	"strings"
	"unicode"
)

const confirmationPrefix = "/api/confirmation/"

// clean drops control characters and keeps at most limit runes.
func clean(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if n == limit {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute returns a loggable route pattern; "" becomes "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

func SanitizeMethod(method string) string {
	return clean(method, 10)
}

// RedactPath replaces the confirmation token segment with {token}. Tokens authorise an
// action on an order and must not reach spans or logs.
func RedactPath(path string) string {
	rest, ok := strings.CutPrefix(path, confirmationPrefix)
	if !ok {
		return clean(path, 180)
	}
	kind, _, hasToken := strings.Cut(rest, "/")
	if !hasToken {
		return clean(path, 180)
	}
	return confirmationPrefix + clean(kind, 40) + "/{token}"
}

func SanitizeUserID(id string) string {
	return clean(strings.TrimSpace(id), 128)
}
