package ratelimit

import (
	"sync"
	"time"

	"marketdash/internal/provider"
)

// Usage is a point-in-time snapshot of one provider's daily quota.
type Usage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

type state struct {
	count   int
	limit   int
	resetAt time.Time
}

// Daily tracks calls per provider per UTC day. True quota accounting lives
// on the provider's server; this is a conservative local approximation whose
// job is to avoid wasting calls on a provider already exhausted today.
//
// Counters roll over lazily: any call that observes the clock past resetAt
// zeroes the count and moves resetAt to the next UTC midnight.
type Daily struct {
	mu     sync.Mutex
	states map[string]*state

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func NewDaily() *Daily {
	return &Daily{states: make(map[string]*state), Now: time.Now}
}

// get returns the provider's state, (re)initialized for the current day.
// Caller must hold mu.
func (d *Daily) get(name string, limit int) *state {
	now := d.Now()
	s, ok := d.states[name]
	if !ok {
		s = &state{limit: limit, resetAt: provider.NextUTCMidnight(now)}
		d.states[name] = s
	}
	if limit > 0 {
		s.limit = limit
	}
	if !now.Before(s.resetAt) {
		s.count = 0
		s.resetAt = provider.NextUTCMidnight(now)
	}
	return s
}

// Allow reports whether the provider has remaining quota for the current
// UTC day. A limit <= 0 means unlimited.
func (d *Daily) Allow(name string, limit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.get(name, limit)
	if s.limit <= 0 {
		return true
	}
	return s.count < s.limit
}

// Record counts one attempted call against the provider's quota. It is
// called for every attempt, not only successes, since the upstream bills
// failures too.
func (d *Daily) Record(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.get(name, 0).count++
}

// Usage returns the provider's current quota snapshot.
func (d *Daily) Usage(name string) Usage {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.get(name, 0)
	remaining := s.limit - s.count
	if s.limit <= 0 {
		remaining = -1
	} else if remaining < 0 {
		remaining = 0
	}
	return Usage{Used: s.count, Limit: s.limit, Remaining: remaining}
}
