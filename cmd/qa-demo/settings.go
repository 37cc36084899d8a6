package main

import (
	"time"

	"github.com/quantumauth-io/quantumauth-go/database"
	"github.com/quantumauth-io/quantumauth-go/redis"
)

// Settings is read from config.yaml with environment overrides (QUANTUMAUTH_TIMEOUT, REDIS_ENABLED, ...).
type Settings struct {
	Log         LogSettings
	HTTP        HTTPSettings
	QuantumAuth QuantumAuthSettings
	Redis       redis.Config
	Database    database.Settings
}

type LogSettings struct {
	Development bool
	Level       string
}

type HTTPSettings struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowOrigins      []string
}

type QuantumAuthSettings struct {
	ServerURL        string
	VerifyPath       string
	BackendAPIKey    string
	Timeout          time.Duration
	CanonicalBinding bool
	ReplayTTL        time.Duration
}
