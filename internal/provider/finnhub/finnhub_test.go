package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketdash/internal/httpx"
	"marketdash/internal/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantErr   bool
		wantQuota bool
	}{
		{name: "ok", status: 200, body: `{"c":1}`},
		{name: "429 with body", status: 429, body: `API limit reached`, wantErr: true, wantQuota: true},
		{name: "429 empty body", status: 429, body: ``, wantErr: true, wantQuota: true},
		{name: "403 with limit wording", status: 403, body: `You've hit the API limit for your plan`, wantErr: true, wantQuota: true},
		{name: "401 bad key", status: 401, body: `Invalid API key`, wantErr: true},
		{name: "502 upstream", status: 502, body: `Bad Gateway`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError("finnhub", tt.status, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("classifyError() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := provider.IsQuota(err); got != tt.wantQuota {
				t.Fatalf("IsQuota() = %v, want %v", got, tt.wantQuota)
			}
		})
	}
}

func TestClassifyError_QuotaCarriesResetTime(t *testing.T) {
	err := classifyError("finnhub", http.StatusTooManyRequests, nil)
	var qe *provider.QuotaError
	if !provider.IsQuota(err) {
		t.Fatalf("want quota error, got %v", err)
	}
	if !errors.As(err, &qe) {
		t.Fatalf("want *provider.QuotaError, got %T", err)
	}
	if qe.Message != "API limit reached" {
		t.Fatalf("empty 429 body should get the default message, got %q", qe.Message)
	}
	if !qe.ResetAt.After(time.Now()) {
		t.Fatalf("reset time must be in the future, got %v", qe.ResetAt)
	}
}

func TestFetchQuote_ParsesQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "SPY" {
			t.Errorf("symbol = %q, want SPY", got)
		}
		if got := r.URL.Query().Get("token"); got != "key123" {
			t.Errorf("token = %q, want key123", got)
		}
		w.Write([]byte(`{"c":512.34,"d":-2.11,"dp":-0.41,"h":515.1,"l":509.9,"o":514.0,"pc":514.45,"t":1717171717}`))
	}))
	defer srv.Close()

	p := New(Config{URL: srv.URL, APIKey: "key123"}, httpx.New(5*time.Second))
	q, err := p.FetchQuote(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("FetchQuote() error = %v", err)
	}
	if q.Price != 512.34 || q.Change != -2.11 || q.ChangePercent != -0.41 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.Source != "finnhub" {
		t.Fatalf("source = %q, want finnhub", q.Source)
	}
}

func TestFetchQuote_AllZeroQuoteIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	}))
	defer srv.Close()

	p := New(Config{URL: srv.URL, APIKey: "key123"}, httpx.New(5*time.Second))
	if _, err := p.FetchQuote(context.Background(), "BOGUS"); err == nil {
		t.Fatal("want error for all-zero quote")
	}
}
