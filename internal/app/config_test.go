package app

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPS_TOKEN", "secret")
	t.Setenv("TIMEZONE", "")
	require.NoError(t, os.Unsetenv("TIMEZONE"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 6*time.Hour, cfg.SchedNotificationInterval)
	require.Equal(t, 12*time.Hour, cfg.SchedLeaseInterval)
	require.Equal(t, 30*time.Second, cfg.SchedWarmup)
	require.Equal(t, 4, cfg.SchedConcurrency)
	require.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	require.False(t, cfg.GatewayEnabled)

	loc, err := cfg.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Sao_Paulo", loc.String())
}

func TestLoadConfigRequiresOpsToken(t *testing.T) {
	t.Setenv("OPS_TOKEN", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("OPS_TOKEN", "secret")
	t.Setenv("TIMEZONE", "Mars/Olympus")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "TIMEZONE")
}

func TestLoadConfigGatewayNeedsCredentials(t *testing.T) {
	t.Setenv("OPS_TOKEN", "secret")
	t.Setenv("GATEWAY_ENABLED", "true")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "gateway credentials")

	t.Setenv("GATEWAY_CLIENT_ID", "id")
	t.Setenv("GATEWAY_CLIENT_SECRET", "secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.GatewayEnabled)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Debug("hidden")
	require.Empty(t, buf.String())

	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, &buf).Info("visible")
	require.Contains(t, buf.String(), `"service":"odyssey-leasing"`)
	require.Contains(t, buf.String(), `"env":"production"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "development"}, &buf).Debug("shown")
	require.Contains(t, buf.String(), "msg=shown")
}
