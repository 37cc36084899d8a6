package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"local":       EnvLocal,
		" LOCAL ":     EnvLocal,
		"dev":         EnvDevelop,
		"develop":     EnvDevelop,
		"Development": EnvDevelop,
		"":            EnvProduction,
		"prod":        EnvProduction,
		"production":  EnvProduction,
	}
	for raw, want := range cases {
		got, err := ParseEnvironment(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseEnvironment("staging")
	require.ErrorIs(t, err, ErrInvalidEnvironment)
	assert.Contains(t, err.Error(), `"staging"`)
}

func TestServerURL(t *testing.T) {
	assert.Equal(t, LocalServerURL, ServerURL(EnvLocal, ""))
	assert.Equal(t, DevelopServerURL, ServerURL(EnvDevelop, "  "))
	assert.Equal(t, ProductionServerURL, ServerURL(EnvProduction, ""))
	assert.Equal(t, "http://qa.internal:9000", ServerURL(EnvProduction, " http://qa.internal:9000 "))
}

func TestResolveServerURL(t *testing.T) {
	t.Setenv(EnvVarQAEnv, "dev")
	t.Setenv(EnvVarServerURL, "")

	url, env, err := ResolveServerURL()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelop, env)
	assert.Equal(t, DevelopServerURL, url)

	t.Setenv(EnvVarQAEnv, "bogus")
	_, _, err = ResolveServerURL()
	require.ErrorIs(t, err, ErrInvalidEnvironment)
}

type testSettings struct {
	Listen     string
	Middleware struct {
		VerifyPath string
		Timeout    time.Duration
	}
}

func TestParseConfigWithEmbedded(t *testing.T) {
	embedded := []byte("listen: \":4000\"\nmiddleware:\n  verifypath: /verify\n  timeout: 2s\n")
	t.Setenv("MIDDLEWARE_TIMEOUT", "5s")

	cfg, err := ParseConfigWithEmbedded[testSettings]([]string{t.TempDir()}, embedded)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Listen)
	assert.Equal(t, "/verify", cfg.Middleware.VerifyPath)
	assert.Equal(t, 5*time.Second, cfg.Middleware.Timeout)
}

func TestParseConfigFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen: \":8080\"\n"), 0o600))

	cfg, err := ParseConfig[testSettings]([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
}
