package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketdash/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between calls.
// Free tiers usually carry a per-minute ceiling alongside the daily quota;
// this spaces calls out so a burst of indicator refreshes does not trip it.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) FetchQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	q, err := m.P.FetchQuote(ctx, symbol)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return q, err
}
