package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 43200, cfg.Cache.MaxAgeSec)
	assert.Equal(t, 21600, cfg.Cache.StaleWhileRevalidateSec)
	assert.Equal(t, 3, cfg.Cache.RetryAttempts)
	assert.True(t, cfg.Cache.FallbackEnabled)
	assert.Equal(t, 1, cfg.AlphaVantage.Priority)
	assert.Equal(t, 25, cfg.AlphaVantage.DailyLimit)
	assert.Equal(t, 2, cfg.Finnhub.Priority)
	assert.Equal(t, 3, cfg.TwelveData.Priority)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": "9090", "request_timeout_sec": 20, "log_level": "debug"},
		"cache": {"max_age_sec": 3600, "stale_while_revalidate_sec": 600, "retry_attempts": 5, "fallback_enabled": false, "db_path": "/tmp/x.db"},
		"alphavantage": {"enabled": true, "api_key": "k1", "priority": 2, "daily_limit": 10},
		"finnhub": {"enabled": false},
		"twelvedata": {"enabled": true, "api_key": "k3", "priority": 1, "daily_limit": 800}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 3600, cfg.Cache.MaxAgeSec)
	assert.False(t, cfg.Cache.FallbackEnabled)
	assert.Equal(t, "k1", cfg.AlphaVantage.APIKey)
	assert.Equal(t, 2, cfg.AlphaVantage.Priority)
	assert.False(t, cfg.Finnhub.Enabled)
	assert.Equal(t, 1, cfg.TwelveData.Priority)
}

func TestLoad_MalformedFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": "9090"}}`), 0o600))

	t.Setenv("PORT", "7070")
	t.Setenv("CACHE_MAX_AGE_SEC", "60")
	t.Setenv("CACHE_FALLBACK_ENABLED", "false")
	t.Setenv("ALPHAVANTAGE_API_KEY", "secret")
	t.Setenv("ALPHAVANTAGE_DAILY_LIMIT", "5")
	t.Setenv("FINNHUB_ENABLED", "no")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 60, cfg.Cache.MaxAgeSec)
	assert.False(t, cfg.Cache.FallbackEnabled)
	assert.Equal(t, "secret", cfg.AlphaVantage.APIKey)
	assert.Equal(t, 5, cfg.AlphaVantage.DailyLimit)
	assert.False(t, cfg.Finnhub.Enabled)
}

func TestLoad_ZeroGraceWindowViaEnv(t *testing.T) {
	t.Setenv("CACHE_STALE_WHILE_REVALIDATE_SEC", "0")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Cache.StaleWhileRevalidateSec)
}

func TestCachePolicy_Conversion(t *testing.T) {
	c := Cache{MaxAgeSec: 3600, StaleWhileRevalidateSec: 600, RetryAttempts: 2, FallbackEnabled: true}
	p := c.Policy()

	assert.Equal(t, time.Hour, p.MaxAge)
	assert.Equal(t, 10*time.Minute, p.StaleWhileRevalidate)
	assert.Equal(t, 2, p.RetryAttempts)
	assert.True(t, p.FallbackEnabled)
}
