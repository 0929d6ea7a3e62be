package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "Asia/Shanghai", cfg.MarketTimezone)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
workers: 8
providerTimeout: 5s
providerToken: from-file
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TUSHARE_TOKEN", "from-env")
	t.Setenv("PORT", "")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, "from-env", cfg.ProviderToken)
}

func TestGetEnvInt_Invalid(t *testing.T) {
	t.Setenv("WORKERS", "x1")
	assert.Equal(t, 4, getEnvInt("WORKERS", 4))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Config{LogLevel: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: ""}.SlogLevel())
}

func TestLocation_Fallback(t *testing.T) {
	assert.Equal(t, time.UTC, Config{MarketTimezone: "Not/AZone"}.Location())
}
