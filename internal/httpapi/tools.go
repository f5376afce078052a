package httpapi

import (
	"net/http"
	"strings"

	"github.com/tweetyapp/voiced/internal/policy"
)

type policyResponse struct {
	UserID    string                 `json:"user_id"`
	Modes     map[string]policy.Mode `json:"modes"`
	Overrides map[string]policy.Mode `json:"overrides"`
}

type policyUpdateRequest struct {
	UserID string `json:"user_id"`
	Tool   string `json:"tool"`
	Mode   string `json:"mode"`
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if s.policy == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tool policy not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "missing_user_id", "query parameter user_id is required")
		return
	}
	s.respondPolicy(w, r, userID)
}

// handlePutPolicy sets one per-user override. An empty mode or "default"
// clears it.
func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	if s.policy == nil || s.policy.Overrides() == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tool policy overrides not configured")
		return
	}
	var req policyUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if q := strings.TrimSpace(r.URL.Query().Get("user_id")); q != "" {
		req.UserID = q
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Tool = strings.TrimSpace(req.Tool)
	if req.UserID == "" || req.Tool == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id and tool are required")
		return
	}
	if _, known := s.policy.Effective(r.Context(), "")[req.Tool]; !known {
		respondError(w, http.StatusBadRequest, "unknown_tool", "tool "+req.Tool+" is not in the catalog")
		return
	}

	store := s.policy.Overrides()
	raw := strings.ToLower(strings.TrimSpace(req.Mode))
	if raw == "" || raw == "default" {
		if err := store.ClearOverride(r.Context(), req.UserID, req.Tool); err != nil {
			respondError(w, http.StatusInternalServerError, "policy_store_failed", err.Error())
			return
		}
		s.respondPolicy(w, r, req.UserID)
		return
	}
	mode, err := policy.ParseMode(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}
	if err := store.SetOverride(r.Context(), req.UserID, req.Tool, mode); err != nil {
		respondError(w, http.StatusInternalServerError, "policy_store_failed", err.Error())
		return
	}
	s.logger.Info("tool policy override set", "user_id", req.UserID, "tool", req.Tool, "mode", mode)
	s.respondPolicy(w, r, req.UserID)
}

func (s *Server) respondPolicy(w http.ResponseWriter, r *http.Request, userID string) {
	overrides := map[string]policy.Mode{}
	if store := s.policy.Overrides(); store != nil {
		ov, err := store.Overrides(r.Context(), userID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "policy_store_failed", err.Error())
			return
		}
		if ov != nil {
			overrides = ov
		}
	}
	respondJSON(w, http.StatusOK, policyResponse{
		UserID:    userID,
		Modes:     s.policy.Effective(r.Context(), userID),
		Overrides: overrides,
	})
}
