package server

import (
	"encoding/json"
	"net/http"
)

// Error kinds surfaced in the response envelope
const (
	kindValidation = "validation"
	kindNotFound   = "not_found"
	kindConflict   = "conflict"
	kindDependency = "dependency"
	kindInternal   = "internal"
)

type apiError struct {
	Kind    string      `json:"kind"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// handleHealth handles liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "etf-arb-tracker",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes the error envelope. Internal details never reach
// the client beyond the message text.
func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, errorEnvelope{Error: apiError{Kind: kind, Message: message}})
}

// writeValidationErrors writes a 400 with each failure listed
func (s *Server) writeValidationErrors(w http.ResponseWriter, message string, errs []error) {
	details := make([]string, len(errs))
	for i, err := range errs {
		details[i] = err.Error()
	}
	s.writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Error: apiError{Kind: kindValidation, Message: message, Details: details},
	})
}
