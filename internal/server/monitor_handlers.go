package server

import (
	"errors"
	"net/http"

	"github.com/bleakplain/etf-arb-tracker/internal/engine"
)

// handleScan runs one scan sweep synchronously
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.monitor.ScanOnce(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("Manual scan failed")
		s.writeError(w, http.StatusServiceUnavailable, kindDependency, "quote provider unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"signals_emitted": len(res.SignalsEmitted),
		"rejected":        len(res.Rejected),
		"errors":          res.Errors,
		"elapsed_ms":      res.ElapsedMs,
	})
}

// handleMonitorStart starts the scan loop
func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Start(); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, kindConflict, "monitor already running")
			return
		}
		s.log.Error().Err(err).Msg("Monitor start failed")
		s.writeError(w, http.StatusInternalServerError, kindInternal, "monitor start failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// handleMonitorStop stops the scan loop
func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			s.writeError(w, http.StatusConflict, kindConflict, "monitor not running")
			return
		}
		s.log.Error().Err(err).Msg("Monitor stop failed")
		s.writeError(w, http.StatusInternalServerError, kindInternal, "monitor stop failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
