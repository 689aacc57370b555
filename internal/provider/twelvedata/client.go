package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketdash/internal/provider"
)

const baseURL = "https://api.twelvedata.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=twelvedata_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Twelve Data API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client requests go through.
	httpClient HTTPClient
	// query contains query parameters sent with each request.
	query url.Values
}

// ClientOption is a configuration option for the Twelve Data client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Twelve Data API client.
func NewClient(key string, options ...ClientOption) (*Client, error) {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		query:      url.Values{},
	}
	if key != "" {
		// https://twelvedata.com/docs#authentication
		client.query.Add("apikey", key)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// QuotePayload is the /quote response. Numeric fields arrive as strings.
type QuotePayload struct {
	Symbol        string `json:"symbol"`
	Close         string `json:"close"`
	Change        string `json:"change"`
	PercentChange string `json:"percent_change"`
	Volume        string `json:"volume"`

	// Error envelope, present on failures even with HTTP 200.
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// GetQuote calls the /quote endpoint for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*QuotePayload, error) {
	u, err := url.Parse(c.baseURL + "/quote")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	for key, values := range c.query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<10))
	if err != nil {
		return nil, fmt.Errorf("twelvedata: read body: %w", err)
	}
	// 429 still carries the JSON error envelope; let classifyPayload see it.
	if resp.StatusCode != http.StatusTooManyRequests && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, fmt.Errorf("twelvedata: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload QuotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("twelvedata: decode: %w", err)
	}
	if err := classifyPayload(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// quotaPhrases are the known Twelve Data wordings for credit exhaustion.
var quotaPhrases = []string{
	"run out of api credits",
	"rate limit",
	"per day",
	"per minute",
}

// classifyPayload turns the embedded error envelope into a typed error:
// a *provider.QuotaError for credit exhaustion, a plain error otherwise.
func classifyPayload(p *QuotePayload) error {
	if p.Status != "error" && p.Code == 0 {
		return nil
	}
	lower := strings.ToLower(p.Message)
	if p.Code == http.StatusTooManyRequests {
		return provider.NewQuotaError("twelvedata", p.Message, time.Now())
	}
	for _, phrase := range quotaPhrases {
		if strings.Contains(lower, phrase) {
			return provider.NewQuotaError("twelvedata", p.Message, time.Now())
		}
	}
	return fmt.Errorf("twelvedata: code=%d msg=%q", p.Code, p.Message)
}
