package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/signal"
)

// handleSignals lists persisted signals newest-first
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	f, err := signalFilterFromQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	out, err := s.signals.List(r.Context(), f)
	if err != nil {
		s.log.Error().Err(err).Msg("Signal query failed")
		s.writeError(w, http.StatusInternalServerError, kindInternal, "signal query failed")
		return
	}
	if out == nil {
		out = []*domain.TradingSignal{}
	}

	s.writeJSON(w, http.StatusOK, out)
}

func signalFilterFromQuery(r *http.Request) (signal.Filter, error) {
	q := r.URL.Query()
	var f signal.Filter
	var err error

	if f.Start, err = parseDateParam(q.Get("start")); err != nil {
		return f, fmt.Errorf("invalid start: %w", err)
	}
	if f.End, err = parseDateParam(q.Get("end")); err != nil {
		return f, fmt.Errorf("invalid end: %w", err)
	}
	if f.Start != "" && f.End != "" && f.End < f.Start {
		return f, fmt.Errorf("end %s before start %s", f.End, f.Start)
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid offset %q", raw)
		}
		f.Offset = n
	}
	if raw := q.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return f, fmt.Errorf("invalid min_confidence %q", raw)
		}
		f.MinConfidence = v
	}

	f.TodayOnly = q.Get("today_only") == "true" || q.Get("today_only") == "1"
	f.StockCode = q.Get("stock_code")
	f.ETFCode = q.Get("etf_code")
	f.EventType = q.Get("event_type")
	return f, nil
}

// parseDateParam canonicalizes a date query value to YYYY-MM-DD.
// Empty stays empty; both ISO and compact forms are accepted.
func parseDateParam(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q, want YYYY-MM-DD or YYYYMMDD", s)
}
