package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

// handleStocks returns live quotes for every watched security, in
// watchlist order. Securities without a quote are skipped.
func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	codes := s.watchlist.Codes()
	out := make([]*domain.Quote, 0, len(codes))

	if len(codes) > 0 {
		quotes, err := s.quotes.Quotes(r.Context(), codes)
		if err != nil {
			s.log.Warn().Err(err).Msg("Watchlist quote fetch failed")
			s.writeError(w, http.StatusServiceUnavailable, kindDependency, "quote provider unavailable")
			return
		}
		for _, code := range codes {
			if q := quotes[code]; q != nil {
				out = append(out, q)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, out)
}

// handleRelatedETFs returns the eligible candidate ETFs for one stock
func (s *Server) handleRelatedETFs(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !s.mapping.Has(code) {
		s.writeError(w, http.StatusNotFound, kindNotFound, fmt.Sprintf("stock %s not in ETF mapping", code))
		return
	}

	candidates, err := s.engine.Candidates(r.Context(), code)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("Candidate enrichment failed")
		s.writeError(w, http.StatusServiceUnavailable, kindDependency, "quote provider unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, candidates)
}

// handleStockHistory returns recent daily klines, oldest first
func (s *Server) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !domain.IsValidCode(code) {
		s.writeError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("invalid security code %q", code))
		return
	}

	days := 120
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("invalid days %q", raw))
			return
		}
		days = n
	}

	klines, err := s.history.DailyKlines(r.Context(), code, days)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Msg("Kline fetch failed")
		s.writeError(w, http.StatusServiceUnavailable, kindDependency, "history provider unavailable")
		return
	}
	if klines == nil {
		klines = []domain.Kline{}
	}

	s.writeJSON(w, http.StatusOK, klines)
}

// handleLimitUp returns today's limit-up securities from the cached
// snapshot
func (s *Server) handleLimitUp(w http.ResponseWriter, r *http.Request) {
	ups, _, err := s.limitUps.LimitUps(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Limit-up scan failed")
		s.writeError(w, http.StatusServiceUnavailable, kindDependency, "quote provider unavailable")
		return
	}
	if ups == nil {
		ups = []*domain.Quote{}
	}

	s.writeJSON(w, http.StatusOK, ups)
}
