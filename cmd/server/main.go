package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

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
	"marketdash/internal/scheduler"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		// Defaults still apply; a broken config file should not take the
		// dashboard down.
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Warn().Err(err).Msg("config load failed, using defaults")
	}
	log := logger.New(logger.Config{Level: cfg.Server.LogLevel, Pretty: true})

	store, err := cache.Open(cfg.Cache.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open cache store")
	}
	defer store.Close()

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	httpClient := httpx.New(timeout)

	entries := buildProviders(cfg, httpClient)
	if len(entries) == 0 {
		log.Warn().Msg("no providers enabled; serving cache only")
	}

	limits := ratelimit.NewDaily()
	ch := chain.New(chain.Config{
		Timeout:         timeout,
		FallbackEnabled: cfg.Cache.FallbackEnabled,
	}, log, limits, entries...)

	agg := overview.New(store, ch, cfg.Cache.Policy(), log)

	sched := scheduler.New(log)
	if err := sched.AddJob("0 0 * * *", &scheduler.ResetJob{Chain: ch}); err != nil {
		log.Fatal().Err(err).Msg("register reset job")
	}
	if err := sched.AddJob("@every 15m", &scheduler.RevalidateJob{Aggregator: agg}); err != nil {
		log.Fatal().Err(err).Msg("register revalidate job")
	}
	sched.Start()
	defer sched.Stop()

	s := &server{agg: agg, ch: ch, log: log}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildProviders assembles the enabled provider adapters, each wrapped
// with a minimum call spacing when configured.
func buildProviders(cfg config.Config, hc *httpx.Client) []chain.Entry {
	var entries []chain.Entry
	wrap := func(p provider.Provider, pc config.Provider) chain.Entry {
		if pc.MinRequestIntervalSec > 0 {
			p = &ratelimit.MinInterval{P: p, Interval: time.Duration(pc.MinRequestIntervalSec) * time.Second}
		}
		return chain.Entry{Provider: p, Priority: pc.Priority, DailyLimit: pc.DailyLimit}
	}

	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey != "" {
		p := alphavantage.New(alphavantage.Config{
			URL:    cfg.AlphaVantage.Endpoint,
			APIKey: cfg.AlphaVantage.APIKey,
		}, hc)
		entries = append(entries, wrap(p, cfg.AlphaVantage))
	}
	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		p := finnhub.New(finnhub.Config{
			URL:    cfg.Finnhub.Endpoint,
			APIKey: cfg.Finnhub.APIKey,
		}, hc)
		entries = append(entries, wrap(p, cfg.Finnhub))
	}
	if cfg.TwelveData.Enabled && cfg.TwelveData.APIKey != "" {
		opts := []twelvedata.ClientOption{twelvedata.WithHTTPClient(hc.HTTP)}
		if cfg.TwelveData.Endpoint != "" {
			opts = append(opts, twelvedata.WithBaseURL(cfg.TwelveData.Endpoint))
		}
		client, err := twelvedata.NewClient(cfg.TwelveData.APIKey, opts...)
		if err == nil {
			entries = append(entries, wrap(twelvedata.NewAdapter(twelvedata.Config{}, client), cfg.TwelveData))
		}
	}
	return entries
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/overview", s.handleOverview)
		r.Get("/indicators/{type}", s.handleIndicator)
		r.Get("/providers", s.handleProviders)
	})
	return r
}
