// Package chain implements priority-ordered fallback across providers.
// One chain invocation tries providers strictly in priority order, never
// concurrently, so quota is not wasted on providers that would be skipped.
package chain

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketdash/internal/provider"
	"marketdash/internal/provider/ratelimit"
)

// Result is the outcome of one chain invocation. RateLimited is true only
// when every provider in the chain was unavailable due to quota, which lets
// upstream show a specific "all providers rate-limited" message instead of
// a generic failure.
type Result struct {
	Quote       *provider.Quote `json:"quote,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	RateLimited bool            `json:"rate_limited"`
	Message     string          `json:"message,omitempty"`
}

// Entry declares one provider's place in the chain.
type Entry struct {
	Provider   provider.Provider
	Priority   int // lower = tried first
	DailyLimit int // calls per UTC day; <= 0 means unlimited
}

// link is the chain's mutable per-provider state. It is only touched under
// Chain.mu; provider availability is deliberately not ambient global state.
type link struct {
	p          provider.Provider
	priority   int
	dailyLimit int
	available  bool
	resetAt    time.Time
}

// Config controls chain behavior.
type Config struct {
	// Timeout bounds each individual provider call. Defaults to 10s.
	Timeout time.Duration
	// FallbackEnabled allows trying lower-priority providers when the
	// preferred one fails. When false only the first provider is used.
	FallbackEnabled bool
}

type Chain struct {
	cfg    Config
	limits *ratelimit.Daily
	log    zerolog.Logger

	mu    sync.Mutex
	links []*link
}

func New(cfg Config, log zerolog.Logger, limits *ratelimit.Daily, entries ...Entry) *Chain {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	links := make([]*link, 0, len(entries))
	for _, e := range entries {
		links = append(links, &link{p: e.Provider, priority: e.Priority, dailyLimit: e.DailyLimit, available: true})
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].priority < links[j].priority })
	return &Chain{
		cfg:    cfg,
		limits: limits,
		log:    log.With().Str("component", "chain").Logger(),
		links:  links,
	}
}

// FetchQuote tries providers in ascending priority order until one returns
// a quote. Skips providers marked unavailable, consults the daily limiter
// before each call, and records every attempted call against the quota.
func (c *Chain) FetchQuote(ctx context.Context, symbol string) Result {
	c.mu.Lock()
	links := make([]*link, len(c.links))
	copy(links, c.links)
	c.mu.Unlock()

	if !c.cfg.FallbackEnabled && len(links) > 1 {
		links = links[:1]
	}

	quotaBlocked := 0
	lastMsg := ""

	for _, l := range links {
		name := l.p.Name()

		if !c.usable(l) {
			quotaBlocked++
			continue
		}
		if !c.limits.Allow(name, l.dailyLimit) {
			// Exhausted per our local accounting: skip for the rest of
			// the cycle without burning a real call.
			c.markUnavailable(l, provider.NextUTCMidnight(time.Now()))
			c.log.Warn().Str("provider", name).Msg("daily quota exhausted, skipping")
			quotaBlocked++
			continue
		}

		c.limits.Record(name)
		cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		q, err := l.p.FetchQuote(cctx, symbol)
		cancel()

		if err == nil && q != nil {
			return Result{Quote: q, Provider: name}
		}
		var qe *provider.QuotaError
		if errors.As(err, &qe) {
			c.markUnavailable(l, qe.ResetAt)
			c.log.Warn().Str("provider", name).Str("message", qe.Message).Msg("provider reported rate limit")
			quotaBlocked++
			lastMsg = qe.Message
			continue
		}
		// Transient: timeout, 5xx, malformed payload, no data. Fall
		// through to the next provider.
		if err != nil {
			lastMsg = err.Error()
			c.log.Debug().Str("provider", name).Err(err).Msg("provider failed, trying next")
		}
	}

	res := Result{Message: lastMsg}
	if len(links) > 0 && quotaBlocked == len(links) {
		res.RateLimited = true
		res.Message = "all providers rate-limited"
	}
	return res
}

// usable re-arms a link whose reset time has passed and reports whether it
// can be tried.
func (c *Chain) usable(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !l.available && !l.resetAt.IsZero() && time.Now().After(l.resetAt) {
		l.available = true
		l.resetAt = time.Time{}
	}
	return l.available
}

func (c *Chain) markUnavailable(l *link, resetAt time.Time) {
	c.mu.Lock()
	l.available = false
	l.resetAt = resetAt
	c.mu.Unlock()
}

// ResetAvailability re-arms every provider. Run on a daily schedule since
// free-text rate-limit messages rarely carry a usable reset time.
func (c *Chain) ResetAvailability() {
	c.mu.Lock()
	for _, l := range c.links {
		l.available = true
		l.resetAt = time.Time{}
	}
	c.mu.Unlock()
	c.log.Info().Msg("provider availability reset")
}

// Usage returns the per-provider daily quota snapshots.
func (c *Chain) Usage() map[string]ratelimit.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ratelimit.Usage, len(c.links))
	for _, l := range c.links {
		out[l.p.Name()] = c.limits.Usage(l.p.Name())
	}
	return out
}
