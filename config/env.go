package config

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDevelop    Environment = "develop"
	EnvProduction Environment = "production"

	// Environment variable names read by ResolveServerURL.
	EnvVarQAEnv     = "QA_ENV"
	EnvVarServerURL = "QUANTUMAUTH_SERVER_URL"

	LocalServerURL      = "http://localhost:1042"
	DevelopServerURL    = "https://dev.api.quantumauth.io"
	ProductionServerURL = "https://api.quantumauth.io"

	// DefaultVerificationPath is the auth-service endpoint the backend middleware posts to.
	DefaultVerificationPath = "/quantum-auth/v1/auth/verify"

	// DefaultClientURL is where the local credential-holder client listens.
	DefaultClientURL = "http://localhost:8090"

	// DefaultChallengePath is the credential-holder client endpoint that issues proofs.
	DefaultChallengePath = "/api/qa/authenticate"
)

var ErrInvalidEnvironment = errors.New("invalid QA environment")

// AllowedHeaders is the CORS header allow-list a backend fronting browser clients should expose.
var AllowedHeaders = []string{
	"Content-Type",
	"Authorization",
	"X-QuantumAuth-App-ID",
	"X-QuantumAuth-User-ID",
	"X-QuantumAuth-Device-ID",
	"X-QuantumAuth-Nonce",
	"X-QuantumAuth-Challenge-ID",
	"X-QuantumAuth-Encrypted",
	"X-QuantumAuth-Canonical-B64",
	"X-QA-Signature",
}

// ParseEnvironment maps a raw QA_ENV value onto an Environment. Empty means production.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "local":
		return EnvLocal, nil
	case "dev", "develop", "development":
		return EnvDevelop, nil
	case "", "prod", "production":
		return EnvProduction, nil
	default:
		return "", errors.Wrap(ErrInvalidEnvironment,
			fmt.Sprintf("%q: allowed local, develop, production (or empty)", raw))
	}
}

// ServerURL returns the auth-service base URL for env. A non-blank override always wins.
func ServerURL(env Environment, override string) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	switch env {
	case EnvLocal:
		return LocalServerURL
	case EnvDevelop:
		return DevelopServerURL
	default:
		return ProductionServerURL
	}
}

// ResolveServerURL reads QA_ENV and QUANTUMAUTH_SERVER_URL from the process environment.
func ResolveServerURL() (string, Environment, error) {
	v := viper.New()
	v.AutomaticEnv()

	env, err := ParseEnvironment(v.GetString(EnvVarQAEnv))
	if err != nil {
		return "", "", err
	}
	return ServerURL(env, v.GetString(EnvVarServerURL)), env, nil
}
