package twelvedata

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"marketdash/internal/provider"
)

type Config struct {
	Name string // display name, default: twelvedata
}

// Adapter exposes the Twelve Data client as a provider.Provider.
type Adapter struct {
	cfg    Config
	client *Client
}

func NewAdapter(cfg Config, client *Client) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "twelvedata"
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) FetchQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	payload, err := a.client.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	price, err := parseNum(payload.Close)
	if err != nil {
		return nil, fmt.Errorf("twelvedata: close for %s: %w", symbol, err)
	}
	change, _ := parseNum(payload.Change)
	changePct, _ := parseNum(payload.PercentChange)
	volume, _ := parseNum(payload.Volume)

	return &provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Source:        a.cfg.Name,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

func parseNum(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	return strconv.ParseFloat(s, 64)
}
