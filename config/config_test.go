package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, "lru", cfg.Engine.Delivery.Backend)
	assert.Equal(t, 100000, cfg.Engine.Delivery.Capacity)
	assert.Equal(t, 168*time.Hour, cfg.Engine.Delivery.TTL)
	assert.Equal(t, 30*time.Minute, cfg.Engine.Session.IdleTimeout)

	gift, ok := cfg.Engine.Claims[DailyGift]
	require.True(t, ok, "daily gift is always configured")
	assert.Equal(t, 24*time.Hour, gift.Period)
}

func TestLoad_Claims(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  claims:
    daily_gift:
      period: 12h
      min: 5
      max: 10
    weekly_chest:
      period: 168h
      min: 1000
      max: 1000
`))
	require.NoError(t, err)

	require.Len(t, cfg.Engine.Claims, 2)
	assert.Equal(t, ClaimConfig{Period: 12 * time.Hour, Min: 5, Max: 10}, cfg.Engine.Claims[DailyGift])
	assert.Equal(t, int64(1000), cfg.Engine.Claims["weekly_chest"].Min)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ENGAGE_SERVER_PORT", "7000")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
