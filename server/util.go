package server

import "strings"

// checkOrigin reports whether origin is allowed. Prefix matching lets any
// port through for a configured host. With nothing configured only
// localhost is trusted.
func checkOrigin(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}
	for _, a := range allowed {
		if a == "*" || strings.HasPrefix(origin, a) {
			return true
		}
	}
	return false
}
