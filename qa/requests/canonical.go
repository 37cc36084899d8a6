// Package requests renders and parses the canonical request string a credential holder signs.
// Its base64 form travels in X-QuantumAuth-Canonical-B64.
package requests

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/quantumauth-io/quantumauth-go/qa/urls"
)

var ErrMalformedCanonical = errors.New("malformed canonical request")

const canonicalLines = 8

// Labels of the key/value lines following method, path and host.
const (
	labelTS        = "TS"
	labelChallenge = "CHALLENGE"
	labelUser      = "USER"
	labelDevice    = "DEVICE"
	labelBody      = "BODY-SHA256"
)

type CanonicalInput struct {
	Method string
	Path   string
	Host   string

	TS          int64
	ChallengeID string
	UserID      string
	DeviceID    string

	Body []byte
}

type ParsedCanonical struct {
	Method      string
	Path        string
	Host        string
	TS          int64
	ChallengeID string
	UserID      string
	DeviceID    string
	BodySHA256  string
}

func labelled(label, value string) string {
	return label + ": " + value
}

func CanonicalString(ci CanonicalInput) string {
	sum := sha256.Sum256(ci.Body)
	return strings.Join([]string{
		strings.ToUpper(ci.Method),
		ci.Path,
		ci.Host,
		labelled(labelTS, strconv.FormatInt(ci.TS, 10)),
		labelled(labelChallenge, ci.ChallengeID),
		labelled(labelUser, ci.UserID),
		labelled(labelDevice, ci.DeviceID),
		labelled(labelBody, hex.EncodeToString(sum[:])),
	}, "\n")
}

func ParseCanonicalString(s string) (*ParsedCanonical, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) != canonicalLines {
		return nil, errors.Wrapf(ErrMalformedCanonical, "got %d lines, want %d", len(lines), canonicalLines)
	}

	out := &ParsedCanonical{
		Method: strings.TrimSpace(lines[0]),
		Path:   strings.TrimSpace(lines[1]),
		Host:   strings.TrimSpace(lines[2]),
	}

	var ts string
	fields := []struct {
		label string
		dst   *string
	}{
		{labelTS, &ts},
		{labelChallenge, &out.ChallengeID},
		{labelUser, &out.UserID},
		{labelDevice, &out.DeviceID},
		{labelBody, &out.BodySHA256},
	}
	for i, f := range fields {
		line := lines[3+i]
		prefix := f.label + ": "
		if !strings.HasPrefix(line, prefix) {
			return nil, errors.Wrapf(ErrMalformedCanonical, "invalid %s line %q", f.label, line)
		}
		*f.dst = strings.TrimSpace(strings.TrimPrefix(line, prefix))
	}

	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedCanonical, "parse TS: %v", err)
	}
	out.TS = n
	return out, nil
}

// EncodeCanonicalB64 renders ci and base64-encodes it for the X-QuantumAuth-Canonical-B64 header.
func EncodeCanonicalB64(ci CanonicalInput) string {
	return base64.StdEncoding.EncodeToString([]byte(CanonicalString(ci)))
}

// DecodeCanonicalB64 reverses EncodeCanonicalB64. Standard, URL-safe, padded and unpadded
// alphabets are all accepted.
func DecodeCanonicalB64(s string) (*ParsedCanonical, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(s); err == nil {
			return ParseCanonicalString(string(raw))
		}
	}
	return nil, errors.Wrap(ErrMalformedCanonical, "not base64")
}

// Matches reports whether the canonical request names the same method, path and host as the
// incoming request. Hosts are compared after urls.NormalizeHost.
func (p *ParsedCanonical) Matches(method, path, host string) error {
	switch {
	case !strings.EqualFold(p.Method, method):
		return errors.Errorf("canonical method %q does not match %q", p.Method, method)
	case p.Path != path:
		return errors.Errorf("canonical path %q does not match %q", p.Path, path)
	case urls.NormalizeHost(p.Host) != urls.NormalizeHost(host):
		return errors.Errorf("canonical host %q does not match %q", p.Host, host)
	}
	return nil
}
