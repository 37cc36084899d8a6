package urls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Api.Example.com:443/x", "api.example.com"},
		{"http://api.example.com:80", "api.example.com"},
		{"api.example.com:8080", "api.example.com:8080"},
		{"https://api.quantumauth.io/v1/verify", "api.quantumauth.io"},
		{"api.quantumauth.io/v1/verify", "api.quantumauth.io"},
		{"HTTP://LOCALHOST:4000/", "localhost:4000"},
		{"not-a-url//with/path", "not-a-url"},
		{"http://[::1]:8443/x", "[::1]:8443"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeHost(tc.in), tc.in)
	}
}

func TestNormalizeHostNeverPanics(t *testing.T) {
	for _, in := range []string{"", "://", "http://", "%zz", "a b c", "http://%41:80/"} {
		assert.NotPanics(t, func() { _ = NormalizeHost(in) }, in)
	}
}

func TestJoin(t *testing.T) {
	bases := []string{"https://api.example.com", "https://api.example.com/", "https://api.example.com//"}
	paths := []string{"verify", "/verify", "//verify"}

	for _, b := range bases {
		for _, p := range paths {
			got := Join(b, p)
			assert.Equal(t, "https://api.example.com/verify", got, "%s + %s", b, p)
			assert.Equal(t, 1, strings.Count(strings.TrimPrefix(got, "https://"), "/"))
			assert.Equal(t, got, Join(got, ""), "re-joining with empty suffix is idempotent")
		}
	}
}

func TestTrimTrailingSlashes(t *testing.T) {
	assert.Equal(t, "https://api.quantumauth.io", TrimTrailingSlashes("https://api.quantumauth.io///"))
}
