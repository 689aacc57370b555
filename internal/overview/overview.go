// Package overview aggregates cached market indicators into one response.
// Each tracked indicator is read independently and concurrently; one
// indicator failing degrades the overview instead of failing it.
package overview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"marketdash/internal/cache"
	"marketdash/internal/provider/chain"
)

// DefaultIndicators is the fixed set of tracked indicator types.
var DefaultIndicators = []string{"fear_greed", "sp500", "vix", "treasury_10y", "unemployment", "cpi"}

// defaultSymbols maps indicator types to the symbol requested from
// providers.
var defaultSymbols = map[string]string{
	"fear_greed":   "FEARGREED",
	"sp500":        "SPY",
	"vix":          "VIXY",
	"treasury_10y": "TNX",
	"unemployment": "UNRATE",
	"cpi":          "CPIAUCSL",
}

// Fetcher is what the aggregator needs from the provider chain.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) chain.Result
}

// Indicator is one indicator's slice of the overview response.
type Indicator struct {
	Type        string           `json:"indicatorType"`
	Entry       *cache.Entry     `json:"entry,omitempty"`
	Freshness   *cache.Freshness `json:"freshness,omitempty"`
	State       string           `json:"state"`
	Unavailable bool             `json:"unavailable,omitempty"`
	RateLimited bool             `json:"rate_limited,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// CacheInfo summarizes per-indicator freshness across the overview.
type CacheInfo struct {
	TotalIndicators int `json:"totalIndicators"`
	FreshIndicators int `json:"freshIndicators"`
	StaleIndicators int `json:"staleIndicators"`
	CacheHitRate    int `json:"cacheHitRate"`
}

// Overview is the aggregate response served to consumers.
type Overview struct {
	Indicators  []Indicator `json:"indicators"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Source      string      `json:"source"` // "cache", "mixed", or "realtime"
	RateLimited bool        `json:"rate_limited,omitempty"`
	CacheInfo   CacheInfo   `json:"cacheInfo"`
}

// RateLimitedError reports that every provider in the chain was quota
// blocked, so retrying within the same window cannot help.
type RateLimitedError struct {
	Message string
}

func (e *RateLimitedError) Error() string { return e.Message }

type Aggregator struct {
	store      cache.Store
	fetcher    Fetcher
	policy     cache.Policy
	indicators []string
	symbols    map[string]string
	log        zerolog.Logger

	// sf coalesces concurrent background refreshes per indicator type.
	sf singleflight.Group
}

func New(store cache.Store, fetcher Fetcher, policy cache.Policy, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:      store,
		fetcher:    fetcher,
		policy:     policy,
		indicators: DefaultIndicators,
		symbols:    defaultSymbols,
		log:        log.With().Str("component", "overview").Logger(),
	}
}

// Indicators returns the tracked indicator types.
func (a *Aggregator) Indicators() []string { return a.indicators }

// GetIndicator reads one indicator, applying the freshness policy. A zero
// overrideMaxAge uses the configured max age. On a miss it fetches
// synchronously through the provider chain and writes the result back.
func (a *Aggregator) GetIndicator(ctx context.Context, typ string, overrideMaxAge time.Duration) (Indicator, error) {
	policy := a.policy
	if overrideMaxAge > 0 {
		policy.MaxAge = overrideMaxAge
	}
	ind := a.readIndicator(ctx, typ, policy)
	if ind.Unavailable {
		return ind, fmt.Errorf("%s: %s", typ, ind.Error)
	}
	return ind, nil
}

// readIndicator applies the serve decision for one indicator:
// fresh -> serve as-is; stale-but-servable -> serve flagged and refresh in
// the background; miss -> synchronous fetch, falling back to whatever is
// still cached when the fetch fails.
func (a *Aggregator) readIndicator(ctx context.Context, typ string, policy cache.Policy) Indicator {
	now := time.Now().UTC()
	ind := Indicator{Type: typ}

	entry, err := a.store.LatestActive(ctx, typ)
	if err != nil {
		a.log.Error().Err(err).Str("indicator", typ).Msg("cache read failed")
		entry = nil
	}

	state := cache.Decide(entry, now, policy)
	switch state {
	case cache.StateFresh:
		f := cache.Classify(entry.CreatedAt, now, policy.MaxAge)
		ind.Entry, ind.Freshness, ind.State = entry, &f, state.String()
		return ind

	case cache.StateStale:
		a.refreshAsync(typ)
		f := cache.Classify(entry.CreatedAt, now, policy.MaxAge)
		ind.Entry, ind.Freshness, ind.State = entry, &f, state.String()
		return ind

	default: // miss
		fresh, ferr := a.fetchAndStore(ctx, typ, policy)
		if ferr == nil {
			f := cache.Classify(fresh.CreatedAt, time.Now().UTC(), policy.MaxAge)
			ind.Entry, ind.Freshness, ind.State = fresh, &f, cache.StateFresh.String()
			return ind
		}
		ind.Error = ferr.Error()
		var rl *RateLimitedError
		ind.RateLimited = errors.As(ferr, &rl)
		if entry != nil {
			// Older than the grace window, but still better than nothing.
			f := cache.Classify(entry.CreatedAt, now, policy.MaxAge)
			ind.Entry, ind.Freshness, ind.State = entry, &f, cache.StateStale.String()
			return ind
		}
		ind.State = cache.StateMiss.String()
		ind.Unavailable = true
		return ind
	}
}

// GetMarketOverview reads every tracked indicator concurrently and folds
// the results into overview-level statistics.
func (a *Aggregator) GetMarketOverview(ctx context.Context) (*Overview, error) {
	results := make([]Indicator, len(a.indicators))
	g, gctx := errgroup.WithContext(ctx)
	for i, typ := range a.indicators {
		g.Go(func() error {
			// Failures are recorded on the indicator, never returned, so
			// one bad indicator cannot cancel the rest.
			results[i] = a.readIndicator(gctx, typ, a.policy)
			return nil
		})
	}
	_ = g.Wait()

	return a.summarize(results, false), nil
}

// Refresh bypasses the freshness shortcut and fetches the given indicator
// types (all tracked types when none given) through the provider chain,
// writing new entries back. Indicators whose fetch fails fall back to the
// cached entry.
func (a *Aggregator) Refresh(ctx context.Context, types ...string) (*Overview, error) {
	if len(types) == 0 {
		types = a.indicators
	}
	results := make([]Indicator, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, typ := range types {
		g.Go(func() error {
			ind := Indicator{Type: typ}
			fresh, err := a.fetchAndStore(gctx, typ, a.policy)
			if err == nil {
				f := cache.Classify(fresh.CreatedAt, time.Now().UTC(), a.policy.MaxAge)
				ind.Entry, ind.Freshness, ind.State = fresh, &f, cache.StateFresh.String()
			} else {
				ind.Error = err.Error()
				var rl *RateLimitedError
				ind.RateLimited = errors.As(err, &rl)
				if entry, rerr := a.store.LatestActive(gctx, typ); rerr == nil && entry != nil {
					now := time.Now().UTC()
					f := cache.Classify(entry.CreatedAt, now, a.policy.MaxAge)
					ind.Entry, ind.Freshness, ind.State = entry, &f, cache.Decide(entry, now, a.policy).String()
				} else {
					ind.State = cache.StateMiss.String()
					ind.Unavailable = true
				}
			}
			results[i] = ind
			return nil
		})
	}
	_ = g.Wait()

	return a.summarize(results, true), nil
}

// RevalidateStale refreshes every indicator whose entry is past its max
// age. Run on a schedule to complete the stale-while-revalidate story.
func (a *Aggregator) RevalidateStale(ctx context.Context) {
	now := time.Now().UTC()
	for _, typ := range a.indicators {
		entry, err := a.store.LatestActive(ctx, typ)
		if err != nil {
			a.log.Error().Err(err).Str("indicator", typ).Msg("revalidate: cache read failed")
			continue
		}
		if cache.Decide(entry, now, a.policy) == cache.StateFresh {
			continue
		}
		if _, err := a.fetchAndStore(ctx, typ, a.policy); err != nil {
			a.log.Warn().Err(err).Str("indicator", typ).Msg("revalidate failed")
		}
	}
}

// fetchAndStore runs the provider chain for one indicator and persists the
// result. Retries the whole chain cycle up to the configured attempts,
// except when every provider is quota-blocked.
func (a *Aggregator) fetchAndStore(ctx context.Context, typ string, policy cache.Policy) (*cache.Entry, error) {
	symbol, ok := a.symbols[typ]
	if !ok {
		symbol = typ
	}
	attempts := policy.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastMsg string
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := a.fetcher.FetchQuote(ctx, symbol)
		if res.Quote != nil {
			data, err := json.Marshal(res.Quote)
			if err != nil {
				return nil, fmt.Errorf("%s: encode quote: %w", typ, err)
			}
			meta, _ := json.Marshal(map[string]string{"provider": res.Provider, "symbol": symbol})
			e := cache.Entry{
				IndicatorType: typ,
				Data:          data,
				Metadata:      meta,
				Source:        res.Provider,
				CreatedAt:     time.Now().UTC(),
			}
			id, err := a.store.Insert(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("%s: store: %w", typ, err)
			}
			e.ID = id
			a.log.Info().Str("indicator", typ).Str("provider", res.Provider).Msg("indicator refreshed")
			return &e, nil
		}
		if res.RateLimited {
			// Every provider is out of quota; more attempts only burn time.
			return nil, &RateLimitedError{Message: res.Message}
		}
		lastMsg = res.Message
	}
	if lastMsg == "" {
		lastMsg = "no provider returned data"
	}
	return nil, fmt.Errorf("%s: all providers failed: %s", typ, lastMsg)
}

// refreshAsync kicks off a background refresh for one indicator without
// blocking the caller. Concurrent requests for the same indicator share a
// single upstream fetch.
func (a *Aggregator) refreshAsync(typ string) {
	go func() {
		_, _, _ = a.sf.Do(typ, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if _, err := a.fetchAndStore(ctx, typ, a.policy); err != nil {
				a.log.Warn().Err(err).Str("indicator", typ).Msg("background refresh failed")
			}
			return nil, nil
		})
	}()
}

// summarize folds per-indicator results into the overview statistics.
func (a *Aggregator) summarize(results []Indicator, forced bool) *Overview {
	ov := &Overview{Indicators: results}
	found, fresh, stale := 0, 0, 0
	rateLimited := false
	for _, ind := range results {
		if ind.Entry != nil {
			found++
			if ind.Entry.CreatedAt.After(ov.LastUpdated) {
				ov.LastUpdated = ind.Entry.CreatedAt
			}
		}
		switch ind.State {
		case cache.StateFresh.String():
			fresh++
		case cache.StateStale.String():
			stale++
		}
		if ind.RateLimited {
			rateLimited = true
		}
	}
	ov.CacheInfo = CacheInfo{
		TotalIndicators: len(results),
		FreshIndicators: fresh,
		StaleIndicators: stale,
	}
	if len(results) > 0 {
		ov.CacheInfo.CacheHitRate = int(math.Round(float64(found) / float64(len(results)) * 100))
	}
	ov.RateLimited = rateLimited
	switch {
	case forced:
		ov.Source = "realtime"
	case fresh > stale:
		ov.Source = "cache"
	default:
		ov.Source = "mixed"
	}
	return ov
}
