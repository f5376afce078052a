package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/config"
	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/policy"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/voice"
)

// EngineFactory builds the voice engine that serves one websocket
// connection for a session record.
type EngineFactory interface {
	NewEngine(s *session.Session) (*voice.Engine, error)
}

type Deps struct {
	Sessions *session.Manager
	Engines  EngineFactory
	Policy   *policy.Evaluator
	History  *history.Log
	Ledger   billing.Ledger
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	engines  EngineFactory
	policy   *policy.Evaluator
	history  *history.Log
	ledger   billing.Ledger
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	live map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: deps.Sessions,
		engines:  deps.Engines,
		policy:   deps.Policy,
		history:  deps.History,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		logger:   logger,
		live:     make(map[string]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only drive a session from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/{id}/tool-calls", s.handleListToolCalls)
	r.Get("/v1/tools/policy", s.handleGetPolicy)
	r.Put("/v1/tools/policy", s.handlePutPolicy)
	r.Get("/v1/billing/balance", s.handleBalance)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.cfg.RealtimeProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.engines == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"reason": "voice engine not configured",
		})
		return
	}
	body := map[string]any{
		"status":          "ready",
		"provider":        s.cfg.RealtimeProvider,
		"billing_mode":    s.cfg.BillingMode,
		"active_sessions": s.sessions.ActiveCount(),
	}
	if s.history != nil {
		body["tracked_tool_calls"] = s.history.Tracked()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = s.cfg.RealtimeVoice
	}
	if strings.TrimSpace(req.Instructions) == "" {
		req.Instructions = s.cfg.RealtimeInstructions
	}

	sess := s.sessions.Create(req)
	s.metrics.ObserveSessionEvent("created")
	s.logger.Info("session created", "session_id", sess.ID, "user_id", sess.UserID)

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Provider:        sess.Provider,
		Voice:           sess.Voice,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id, session.EndReasonClient)
	switch {
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusConflict, "session_ended", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.CloseSession(id)
	s.metrics.ObserveSessionEvent("ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	calls := []history.Entry{}
	if s.history != nil {
		entries, err := s.history.Calls(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
			return
		}
		if entries != nil {
			calls = entries
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"calls":      calls,
	})
}

// CloseSession stops the engine serving id, if any. Its websocket
// connection is closed once the engine has torn down.
func (s *Server) CloseSession(id string) {
	s.mu.Lock()
	cancel, ok := s.live[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// CloseAll stops every live engine. Hijacked websocket connections are not
// covered by http.Server.Shutdown.
func (s *Server) CloseAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.live))
	for _, cancel := range s.live {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *Server) attach(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.live[id]; busy {
		return false
	}
	s.live[id] = cancel
	s.wg.Add(1)
	return true
}

func (s *Server) detach(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	s.wg.Done()
}

// Drain waits for live connections to finish tearing down their engines.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
