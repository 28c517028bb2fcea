package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bleakplain/etf-arb-tracker/internal/backtest"
	"github.com/bleakplain/etf-arb-tracker/internal/domain"
	"github.com/bleakplain/etf-arb-tracker/internal/signal"
)

var backtestStatuses = map[backtest.JobStatus]bool{
	backtest.StatusQueued:    true,
	backtest.StatusRunning:   true,
	backtest.StatusCompleted: true,
	backtest.StatusFailed:    true,
	backtest.StatusCancelled: true,
}

// handleBacktestStart validates and enqueues a backtest job
func (s *Server) handleBacktestStart(w http.ResponseWriter, r *http.Request) {
	cfg := backtest.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, kindValidation, "invalid request body: "+err.Error())
		return
	}

	id, err := s.backtests.Start(cfg)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// handleBacktestJobs lists jobs newest-first
func (s *Server) handleBacktestJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts backtest.ListOptions

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("invalid offset %q", raw))
			return
		}
		opts.Offset = n
	}
	if raw := q.Get("status"); raw != "" {
		status := backtest.JobStatus(raw)
		if !backtestStatuses[status] {
			s.writeError(w, http.StatusBadRequest, kindValidation, fmt.Sprintf("unknown status %q", raw))
			return
		}
		opts.Status = status
	}

	jobs := s.backtests.List(opts)
	if jobs == nil {
		jobs = []backtest.Job{}
	}
	s.writeJSON(w, http.StatusOK, jobs)
}

// handleBacktestJob returns one job's state
func (s *Server) handleBacktestJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.backtests.Job(id)
	if err != nil {
		s.writeBacktestError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleBacktestResult returns the result of a completed job
func (s *Server) handleBacktestResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.backtests.Result(id)
	if err != nil {
		s.writeBacktestError(w, id, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleBacktestSignals exports a completed job's signals as CSV, or
// JSON with ?format=json
func (s *Server) handleBacktestSignals(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sigs, err := s.backtests.Signals(id)
	if err != nil {
		s.writeBacktestError(w, id, err)
		return
	}

	if r.URL.Query().Get("format") == "json" {
		if sigs == nil {
			sigs = []domain.TradingSignal{}
		}
		s.writeJSON(w, http.StatusOK, sigs)
		return
	}

	ptrs := make([]*domain.TradingSignal, len(sigs))
	for i := range sigs {
		ptrs[i] = &sigs[i]
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=backtest_%s.csv", id))
	w.WriteHeader(http.StatusOK)
	if err := signal.WriteCSV(w, ptrs); err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("CSV export failed")
	}
}

// handleBacktestDelete cancels a running job and removes its record
func (s *Server) handleBacktestDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.backtests.Delete(id); err != nil {
		s.writeBacktestError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeBacktestError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, backtest.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, kindNotFound, fmt.Sprintf("backtest job %s not found", id))
	case errors.Is(err, backtest.ErrNotReady):
		s.writeError(w, http.StatusConflict, kindConflict, err.Error())
	default:
		s.log.Error().Err(err).Str("job_id", id).Msg("Backtest request failed")
		s.writeError(w, http.StatusInternalServerError, kindInternal, "backtest request failed")
	}
}
