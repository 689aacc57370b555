// Package alphavantage fetches quotes from the Alpha Vantage GLOBAL_QUOTE
// endpoint. The free tier allows 25 requests per UTC day and signals
// exhaustion inside a 200 response via free-text "Note"/"Information"
// fields, so quota detection here is a best-effort substring match.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
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
		cfg.Name = "alphavantage"
	}
	if cfg.URL == "" {
		cfg.URL = "https://www.alphavantage.co/query"
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", p.cfg.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("alphavantage: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, provider.NewQuotaError(p.cfg.Name, strings.TrimSpace(string(body)), time.Now())
		}
		return nil, fmt.Errorf("alphavantage: %s -> %d", symbol, resp.StatusCode)
	}
	if err := p.classifyPayload(body); err != nil {
		return nil, err
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("alphavantage: decode: %w", err)
	}
	g := api.GlobalQuote
	if g.Symbol == "" && g.Price == "" {
		return nil, fmt.Errorf("alphavantage: no data for %s", symbol)
	}

	price, err := parseNum(g.Price)
	if err != nil {
		return nil, fmt.Errorf("alphavantage: price for %s: %w", symbol, err)
	}
	change, _ := parseNum(g.Change)
	changePct, _ := parseNum(strings.TrimSuffix(g.ChangePercent, "%"))
	volume, _ := parseNum(g.Volume)

	return &provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Source:        p.cfg.Name,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

// quotaPhrases are the known wordings Alpha Vantage uses when a key has run
// out of calls. The exact reset time is not recoverable from these
// messages.
var quotaPhrases = []string{
	"rate limit",
	"calls per day",
	"requests per day",
	"call frequency",
	"premium",
}

// classifyPayload inspects the free-text envelope fields Alpha Vantage
// embeds in otherwise-200 responses. Returns a *provider.QuotaError for
// rate-limit wordings, a plain error for other embedded errors, nil when
// the payload looks like data.
func (p *Provider) classifyPayload(body []byte) error {
	var env struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil // not an envelope; let the quote decode decide
	}
	for _, msg := range []string{env.Note, env.Information} {
		if msg == "" {
			continue
		}
		lower := strings.ToLower(msg)
		for _, phrase := range quotaPhrases {
			if strings.Contains(lower, phrase) {
				return provider.NewQuotaError(p.cfg.Name, msg, time.Now())
			}
		}
		return fmt.Errorf("alphavantage: %s", msg)
	}
	if env.ErrorMessage != "" {
		return fmt.Errorf("alphavantage: %s", env.ErrorMessage)
	}
	return nil
}

type apiResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

func parseNum(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseFloat(s, 64)
}
