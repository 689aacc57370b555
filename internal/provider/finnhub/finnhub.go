// Package finnhub fetches quotes from the Finnhub /quote endpoint.
// Finnhub signals rate limiting with HTTP 429 and an "API limit reached"
// body, which makes it the best-behaved of the providers here.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketdash/internal/httpx"
	"marketdash/internal/provider"
)

type Config struct {
	Name   string
	URL    string
	APIKey string
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.URL == "" {
		cfg.URL = "https://finnhub.io/api/v1/quote"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", p.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if err != nil {
		return nil, fmt.Errorf("finnhub: read body: %w", err)
	}
	if err := classifyError(p.cfg.Name, resp.StatusCode, body); err != nil {
		return nil, err
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("finnhub: decode: %w", err)
	}
	// Finnhub returns an all-zero quote for unknown symbols rather than
	// an error status.
	if api.Current == 0 && api.Timestamp == 0 {
		return nil, fmt.Errorf("finnhub: no data for %s", symbol)
	}

	return &provider.Quote{
		Symbol:        symbol,
		Price:         api.Current,
		Change:        api.Change,
		ChangePercent: api.ChangePercent,
		Source:        p.cfg.Name,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

// classifyError maps a Finnhub response to nil, a transient error, or a
// *provider.QuotaError. Kept separate so the heuristic is testable on its
// own.
func classifyError(name string, status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "API limit reached"
		}
		return provider.NewQuotaError(name, msg, time.Now())
	}
	if status < 200 || status >= 300 {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "api limit") || strings.Contains(lower, "rate limit") {
			return provider.NewQuotaError(name, strings.TrimSpace(string(body)), time.Now())
		}
		return fmt.Errorf("finnhub: status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

type apiResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}
