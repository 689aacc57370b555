package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"marketdash/internal/overview"
	"marketdash/internal/provider/chain"
)

type server struct {
	agg *overview.Aggregator
	ch  *chain.Chain
	log zerolog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleOverview serves the aggregated indicator overview. ?refresh=true
// bypasses the freshness shortcut and pulls everything through the provider
// chain.
func (s *server) handleOverview(w http.ResponseWriter, r *http.Request) {
	var (
		ov  *overview.Overview
		err error
	)
	if isTrue(r.URL.Query().Get("refresh")) {
		ov, err = s.agg.Refresh(r.Context())
	} else {
		ov, err = s.agg.GetMarketOverview(r.Context())
	}
	if err != nil {
		s.log.Error().Err(err).Msg("overview failed")
		writeError(w, http.StatusInternalServerError, "overview failed")
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

// handleIndicator serves one indicator. ?max_age=seconds overrides the
// configured freshness window for this read.
func (s *server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	if !s.knownIndicator(typ) {
		writeError(w, http.StatusNotFound, "unknown indicator type")
		return
	}

	var overrideMaxAge time.Duration
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		sec, err := strconv.Atoi(raw)
		if err != nil || sec <= 0 {
			writeError(w, http.StatusBadRequest, "max_age must be a positive integer of seconds")
			return
		}
		overrideMaxAge = time.Duration(sec) * time.Second
	}

	ind, err := s.agg.GetIndicator(r.Context(), typ, overrideMaxAge)
	if err != nil {
		status := http.StatusBadGateway
		if ind.RateLimited {
			// Distinguish "every provider is out of quota" so the UI can
			// say so instead of showing a generic failure.
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, ind)
		return
	}
	writeJSON(w, http.StatusOK, ind)
}

// handleProviders exposes per-provider daily quota usage.
func (s *server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"usage": s.ch.Usage()})
}

func (s *server) knownIndicator(typ string) bool {
	for _, t := range s.agg.Indicators() {
		if t == typ {
			return true
		}
	}
	return false
}

func isTrue(v string) bool {
	switch v {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
