package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"marketdash/internal/cache"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
	LogLevel          string `json:"log_level"`
}

// Cache holds the freshness policy knobs. All values have safe defaults so
// a missing or broken config source never blocks startup.
type Cache struct {
	MaxAgeSec               int  `json:"max_age_sec"`
	StaleWhileRevalidateSec int  `json:"stale_while_revalidate_sec"`
	RetryAttempts           int  `json:"retry_attempts"`
	FallbackEnabled         bool `json:"fallback_enabled"`
	DBPath                  string `json:"db_path"`
}

// Provider configures one upstream data source.
type Provider struct {
	Enabled               bool   `json:"enabled"`
	APIKey                string `json:"api_key"`
	Endpoint              string `json:"endpoint"`
	Priority              int    `json:"priority"`
	DailyLimit            int    `json:"daily_limit"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec"`
}

type Config struct {
	Server       Server   `json:"server"`
	Cache        Cache    `json:"cache"`
	AlphaVantage Provider `json:"alphavantage"`
	Finnhub      Provider `json:"finnhub"`
	TwelveData   Provider `json:"twelvedata"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10, LogLevel: "info"},
		Cache: Cache{
			MaxAgeSec:               43200, // 12h
			StaleWhileRevalidateSec: 21600, // 6h
			RetryAttempts:           3,
			FallbackEnabled:         true,
			DBPath:                  "data/marketdash.db",
		},
		AlphaVantage: Provider{Enabled: true, Priority: 1, DailyLimit: 25},
		Finnhub:      Provider{Enabled: true, Priority: 2, DailyLimit: 3600, MinRequestIntervalSec: 1},
		TwelveData:   Provider{Enabled: true, Priority: 3, DailyLimit: 800},
	}
}

// Policy converts the cache section into the policy struct the cache and
// overview packages consume.
func (c Cache) Policy() cache.Policy {
	return cache.Policy{
		MaxAge:               time.Duration(c.MaxAgeSec) * time.Second,
		StaleWhileRevalidate: time.Duration(c.StaleWhileRevalidateSec) * time.Second,
		RetryAttempts:        c.RetryAttempts,
		FallbackEnabled:      c.FallbackEnabled,
	}
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. A .env file (if present) and environment
// variables override select fields for secrecy.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := envInt("REQUEST_TIMEOUT_SEC"); v > 0 {
		cfg.Server.RequestTimeoutSec = v
	}

	if v := envInt("CACHE_MAX_AGE_SEC"); v > 0 {
		cfg.Cache.MaxAgeSec = v
	}
	if v := envInt("CACHE_STALE_WHILE_REVALIDATE_SEC"); v >= 0 && os.Getenv("CACHE_STALE_WHILE_REVALIDATE_SEC") != "" {
		cfg.Cache.StaleWhileRevalidateSec = v
	}
	if v := envInt("CACHE_RETRY_ATTEMPTS"); v > 0 {
		cfg.Cache.RetryAttempts = v
	}
	if v, ok := envBool("CACHE_FALLBACK_ENABLED"); ok {
		cfg.Cache.FallbackEnabled = v
	}
	if v := os.Getenv("CACHE_DB_PATH"); v != "" {
		cfg.Cache.DBPath = v
	}

	applyProviderEnv("ALPHAVANTAGE", &cfg.AlphaVantage)
	applyProviderEnv("FINNHUB", &cfg.Finnhub)
	applyProviderEnv("TWELVEDATA", &cfg.TwelveData)
}

func applyProviderEnv(prefix string, p *Provider) {
	if v, ok := envBool(prefix + "_ENABLED"); ok {
		p.Enabled = v
	}
	if v := os.Getenv(prefix + "_API_KEY"); v != "" {
		p.APIKey = v
	}
	if v := os.Getenv(prefix + "_ENDPOINT"); v != "" {
		p.Endpoint = v
	}
	if v := envInt(prefix + "_PRIORITY"); v > 0 {
		p.Priority = v
	}
	if v := envInt(prefix + "_DAILY_LIMIT"); v > 0 {
		p.DailyLimit = v
	}
	if v := envInt(prefix + "_MIN_INTERVAL_SEC"); v > 0 {
		p.MinRequestIntervalSec = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	var x int
	_, _ = fmt.Sscanf(v, "%d", &x)
	return x
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true, true
	case "0", "false", "no", "n":
		return false, true
	}
	return false, false
}
