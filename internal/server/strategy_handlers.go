package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bleakplain/etf-arb-tracker/internal/market"
	"github.com/bleakplain/etf-arb-tracker/internal/strategy"
)

// handlePlugins lists the pluggable pieces outside the strategy chain
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluators": strategy.EvalPresetList(),
		"senders":    s.fanout.Names(),
		"sources":    market.Sources(),
	})
}

// handleStrategies lists registered strategy plugins and templates
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_detectors": s.registries.Detectors.List(),
		"fund_selectors":  s.registries.Selectors.List(),
		"signal_filters":  s.registries.Filters.List(),
		"templates":       strategy.Templates(),
	})
}

// handleStrategiesValidate checks a strategy chain without building it.
// Unnamed pieces fall back to the default chain, so a partial query
// validates just the overridden parts.
func (s *Server) handleStrategiesValidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cfg := strategy.DefaultEngineConfig()
	if id := q.Get("template"); id != "" {
		tpl, err := strategy.TemplateByID(id)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, kindValidation, err.Error())
			return
		}
		cfg = tpl.Resolve()
	}

	if v := q.Get("event_detector"); v != "" {
		cfg.EventDetector = v
	}
	if v := q.Get("fund_selector"); v != "" {
		cfg.FundSelector = v
	}
	if raw := q.Get("signal_filters"); raw != "" {
		var filters []string
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filters = append(filters, name)
			}
		}
		cfg.SignalFilters = filters
	}

	errs := strategy.Validate(cfg, s.registries)
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     len(errs) == 0,
		"errors": msgs,
	})
}

// handleMappingRebuild kicks off an asynchronous holdings refresh
func (s *Server) handleMappingRebuild(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		s.writeError(w, http.StatusServiceUnavailable, kindDependency, "mapping refresh not configured")
		return
	}
	if !s.rebuilding.CompareAndSwap(false, true) {
		s.writeError(w, http.StatusConflict, kindConflict, "mapping rebuild already in progress")
		return
	}

	go func() {
		defer s.rebuilding.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := s.refresher.Refresh(ctx); err != nil {
			s.log.Error().Err(err).Msg("Mapping rebuild failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuilding"})
}
