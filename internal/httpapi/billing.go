package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tweetyapp/voiced/internal/billing"
)

var errNoLedger = errors.New("billing ledger not configured")

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", errNoLedger.Error())
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	bal, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		status := http.StatusBadGateway
		var se *billing.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			status = http.StatusBadRequest
		}
		respondError(w, status, "balance_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, bal)
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}
