package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bleakplain/etf-arb-tracker/internal/watchlist"
)

// handleWatchlist lists the watched securities
func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.watchlist.List())
}

// handleWatchlistAdd adds a security. Answers 200 already_exists when
// the code is present, 201 on a real insert.
func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var entry watchlist.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		s.writeError(w, http.StatusBadRequest, kindValidation, "invalid request body: "+err.Error())
		return
	}

	added, err := s.watchlist.Add(entry)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}
	if !added {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "already_exists", "code": entry.Code})
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "success", "code": entry.Code})
}

// handleWatchlistRemove removes a security by code
func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	removed, err := s.watchlist.Remove(code)
	if err != nil {
		s.log.Error().Err(err).Str("code", code).Msg("Watchlist remove failed")
		s.writeError(w, http.StatusInternalServerError, kindInternal, "watchlist update failed")
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, kindNotFound, fmt.Sprintf("%s not on watchlist", code))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
