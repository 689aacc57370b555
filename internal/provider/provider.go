package provider

import (
	"context"
	"time"
)

// Quote is the normalized market reading returned by all providers.
// Volume and MarketCap are zero when the upstream does not report them.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        float64   `json:"volume,omitempty"`
	MarketCap     float64   `json:"marketCap,omitempty"`
	Source        string    `json:"source"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Provider fetches one symbol from one external data source.
// Expected failures (network errors, non-2xx responses, malformed payloads,
// no data for the symbol) come back as plain errors; quota exhaustion comes
// back as a *QuotaError so callers can tell the two apart.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}
