// Command fetch force-refreshes indicators from the command line and
// prints the resulting overview as JSON. Useful for warming the cache and
// for poking providers without the server running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"marketdash/internal/cache"
	"marketdash/internal/config"
	"marketdash/internal/httpx"
	"marketdash/internal/logger"
	"marketdash/internal/overview"
	"marketdash/internal/provider"
	"marketdash/internal/provider/alphavantage"
	"marketdash/internal/provider/chain"
	"marketdash/internal/provider/finnhub"
	"marketdash/internal/provider/ratelimit"
	"marketdash/internal/provider/twelvedata"
)

func main() {
	var indicatorsCSV string
	var configPath string
	var timeoutSec int
	flag.StringVar(&indicatorsCSV, "indicators", "", "comma-separated indicator types (default: all tracked)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.IntVar(&timeoutSec, "timeout", 60, "overall timeout in seconds")
	flag.Parse()

	cfg, err := config.Load(configPath)
	log := logger.New(logger.Config{Level: cfg.Server.LogLevel, Pretty: true})
	if err != nil {
		log.Warn().Err(err).Msg("config load failed, using defaults")
	}

	store, err := cache.Open(cfg.Cache.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open cache store")
	}
	defer store.Close()

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	ch := chain.New(chain.Config{
		Timeout:         time.Duration(cfg.Server.RequestTimeoutSec) * time.Second,
		FallbackEnabled: cfg.Cache.FallbackEnabled,
	}, log, ratelimit.NewDaily(), buildProviders(cfg, httpClient)...)

	agg := overview.New(store, ch, cfg.Cache.Policy(), log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	var types []string
	for _, t := range strings.Split(indicatorsCSV, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}

	ov, err := agg.Refresh(ctx, types...)
	if err != nil {
		log.Fatal().Err(err).Msg("refresh")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(ov)
}

func buildProviders(cfg config.Config, hc *httpx.Client) []chain.Entry {
	var entries []chain.Entry
	wrap := func(p provider.Provider, pc config.Provider) chain.Entry {
		if pc.MinRequestIntervalSec > 0 {
			p = &ratelimit.MinInterval{P: p, Interval: time.Duration(pc.MinRequestIntervalSec) * time.Second}
		}
		return chain.Entry{Provider: p, Priority: pc.Priority, DailyLimit: pc.DailyLimit}
	}

	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey != "" {
		entries = append(entries, wrap(alphavantage.New(alphavantage.Config{
			URL:    cfg.AlphaVantage.Endpoint,
			APIKey: cfg.AlphaVantage.APIKey,
		}, hc), cfg.AlphaVantage))
	}
	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		entries = append(entries, wrap(finnhub.New(finnhub.Config{
			URL:    cfg.Finnhub.Endpoint,
			APIKey: cfg.Finnhub.APIKey,
		}, hc), cfg.Finnhub))
	}
	if cfg.TwelveData.Enabled && cfg.TwelveData.APIKey != "" {
		opts := []twelvedata.ClientOption{twelvedata.WithHTTPClient(hc.HTTP)}
		if cfg.TwelveData.Endpoint != "" {
			opts = append(opts, twelvedata.WithBaseURL(cfg.TwelveData.Endpoint))
		}
		if client, err := twelvedata.NewClient(cfg.TwelveData.APIKey, opts...); err == nil {
			entries = append(entries, wrap(twelvedata.NewAdapter(twelvedata.Config{}, client), cfg.TwelveData))
		}
	}
	return entries
}
