// Package urls canonicalizes backend hosts and joins base URLs with paths.
package urls

import (
	"net/url"
	"regexp"
	"strings"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// NormalizeHost reduces a base URL or bare authority to a lower-cased "host[:port]".
// Default ports 80 and 443 are dropped. Inputs without a scheme are parsed as http.
// Unparseable input falls back to stripping the scheme and cutting at the first "/";
// it never fails.
func NormalizeHost(urlOrHost string) string {
	raw := strings.TrimSpace(urlOrHost)
	withScheme := raw
	if !schemePrefix.MatchString(raw) {
		withScheme = "http://" + raw
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Hostname() == "" {
		return fallbackHost(raw)
	}

	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		// IPv6 literal
		host = "[" + host + "]"
	}
	port := u.Port()
	if port == "" || port == "80" || port == "443" {
		return host
	}
	return host + ":" + port
}

func fallbackHost(raw string) string {
	rest := schemePrefix.ReplaceAllString(raw, "")
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// Join concatenates base and path with exactly one "/" between them.
// An empty path returns base unchanged.
func Join(base, path string) string {
	if path == "" {
		return base
	}
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// TrimTrailingSlashes removes every trailing "/" from u.
func TrimTrailingSlashes(u string) string {
	return strings.TrimRight(u, "/")
}
