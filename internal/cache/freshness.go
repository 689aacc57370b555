package cache

import (
	"time"
)

// Policy holds the freshness knobs loaded once at startup.
type Policy struct {
	// MaxAge is how long an entry counts as fresh.
	MaxAge time.Duration
	// StaleWhileRevalidate is the grace window past MaxAge during which a
	// stale entry is still served while a background refresh runs.
	StaleWhileRevalidate time.Duration
	// RetryAttempts bounds synchronous fetch retries on a cache miss.
	RetryAttempts int
	// FallbackEnabled allows falling through to lower-priority providers.
	FallbackEnabled bool
}

// DefaultPolicy matches the hardcoded defaults used when configuration is
// unavailable: 12h max age, 6h grace window, 3 retries, fallback on.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:               12 * time.Hour,
		StaleWhileRevalidate: 6 * time.Hour,
		RetryAttempts:        3,
		FallbackEnabled:      true,
	}
}

// Freshness is derived from an entry's age, never stored.
type Freshness struct {
	AgeSeconds float64 `json:"ageInSeconds"`
	AgeHours   float64 `json:"ageInHours"`
	Score      float64 `json:"freshnessScore"`
	Stale      bool    `json:"isStale"`
}

// Classify converts an entry's age into a freshness score and stale flag.
// The score decays linearly from 100 at age 0 to 0 at maxAge and is
// clamped to [0, 100].
func Classify(createdAt, now time.Time, maxAge time.Duration) Freshness {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	score := 0.0
	if maxAge > 0 {
		score = 100 * (1 - age.Seconds()/maxAge.Seconds())
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
	}
	return Freshness{
		AgeSeconds: age.Seconds(),
		AgeHours:   age.Hours(),
		Score:      score,
		Stale:      age > maxAge,
	}
}

// State is the serving decision for one cache entry.
type State int

const (
	// StateFresh: serve as-is.
	StateFresh State = iota
	// StateStale: serve flagged stale and refresh in the background.
	StateStale
	// StateMiss: no servable entry; fetch synchronously before responding.
	StateMiss
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "miss"
	}
}

// Decide classifies an entry against the policy. A nil entry is a miss, as
// is anything older than MaxAge + StaleWhileRevalidate.
func Decide(e *Entry, now time.Time, p Policy) State {
	if e == nil {
		return StateMiss
	}
	age := now.Sub(e.CreatedAt)
	switch {
	case age < p.MaxAge:
		return StateFresh
	case age < p.MaxAge+p.StaleWhileRevalidate:
		return StateStale
	default:
		return StateMiss
	}
}
