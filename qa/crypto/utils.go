package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("random: %w", err)
	}
	return buf, nil
}

// RandomBase64 returns N random bytes encoded in base64 (URL-safe, no padding).
func RandomBase64(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BytesToB64 encodes b with the padded standard alphabet used on the wire by the web SDK.
func BytesToB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// B64ToBytes decodes padded standard base64, tolerating a missing padding.
func B64ToBytes(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return out, nil
	}
	if out, err2 := base64.RawStdEncoding.DecodeString(s); err2 == nil {
		return out, nil
	}
	return nil, fmt.Errorf("base64: %w", err)
}
