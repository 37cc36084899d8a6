package headers

import (
	"net/http"
	"strings"
)

// IsAuthHeader reports whether name belongs to the authentication allow-list:
// "authorization", "x-qa-signature" or any "x-quantumauth-" prefixed name (case-insensitive).
func IsAuthHeader(name string) bool {
	lower := strings.ToLower(name)
	return lower == "authorization" ||
		lower == "x-qa-signature" ||
		strings.HasPrefix(lower, QuantumAuthPrefix)
}

// FilterAuthHeaders copies the allow-listed headers of h into a flat map.
// Header names keep the form they have in h; multiple values are joined with ",".
// Headers whose values are all empty are skipped.
func FilterAuthHeaders(h http.Header) map[string]string {
	out := make(map[string]string)
	for name, values := range h {
		if len(values) == 0 || !IsAuthHeader(name) {
			continue
		}
		joined := strings.Join(values, ",")
		if joined == "" {
			continue
		}
		out[name] = joined
	}
	return out
}
