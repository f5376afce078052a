package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/protocol"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/voice"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsDirectBuffer = 32
)

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.engines == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice engine not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status == session.StatusEnded {
		respondError(w, http.StatusGone, "session_ended", "session already ended")
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	if !s.attach(sessionID, cancel) {
		respondError(w, http.StatusConflict, "session_busy", "session already has a live connection")
		return
	}
	defer s.detach(sessionID)

	engine, err := s.engines.NewEngine(sess)
	if err != nil {
		s.logger.Error("voice engine init failed", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "engine_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ObserveSessionEvent("ws_connected")
	logger := s.logger.With("session_id", sessionID)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("voice engine stopped", "error", err)
		}
	}()

	// Gateway errors share the writer so websocket writes stay single-threaded.
	direct := make(chan any, wsDirectBuffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, sessionID, engine, direct)
		cancel()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.queueDirect(direct, gatewayError(sessionID, "invalid_client_message", err))
			continue
		}
		if err := s.dispatch(engine, sessionID, parsed); err != nil {
			if errors.Is(err, voice.ErrEngineClosed) {
				break
			}
			s.queueDirect(direct, gatewayError(sessionID, "client_message_rejected", err))
		}
	}

	cancel()
	<-runDone
	<-writerDone
	s.metrics.ObserveSessionEvent("ws_disconnected")
	logger.Info("session websocket closed")
}

func (s *Server) dispatch(engine *voice.Engine, sessionID string, msg any) error {
	msgType, _ := protocol.TypeOf(msg)
	s.metrics.ObserveWSMessage("inbound", msgType)
	_ = s.sessions.Touch(sessionID)

	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		if m.SessionID != sessionID {
			return errSessionMismatch
		}
		pcm, err := m.PCM()
		if err != nil {
			return err
		}
		err = engine.PushAudio(audio.Frame{
			PCM:        pcm,
			SampleRate: m.SampleRate,
			Direction:  audio.Captured,
			At:         time.Now(),
		})
		if errors.Is(err, voice.ErrMailboxFull) {
			return nil
		}
		return err
	case protocol.ClientControl:
		if m.SessionID != sessionID {
			return errSessionMismatch
		}
		if m.Action == protocol.ActionConnect {
			return engine.Connect()
		}
		return engine.Disconnect()
	case protocol.ClientConfirmation:
		if m.SessionID != sessionID {
			return errSessionMismatch
		}
		return engine.ResolveConfirmation(m.CallID, m.Approved)
	}
	return protocol.ErrUnsupportedType
}

// writeLoop forwards engine events until the engine stops or a write
// fails.
func (s *Server) writeLoop(conn *websocket.Conn, sessionID string, engine *voice.Engine, direct <-chan any) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	write := func(msg any) bool {
		s.mirror(sessionID, msg)
		msgType, _ := protocol.TypeOf(msg)
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.metrics.ObserveWSWriteError("write_json")
			return false
		}
		s.metrics.ObserveWSMessage("outbound", msgType)
		return true
	}

	for {
		select {
		case <-engine.Done():
			// Flush whatever the engine published during teardown.
			for {
				select {
				case msg := <-engine.Events():
					if !write(msg) {
						return
					}
				default:
					return
				}
			}
		case msg := <-engine.Events():
			if !write(msg) {
				return
			}
		case msg := <-direct:
			if !write(msg) {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.metrics.ObserveWSWriteError("ping")
				return
			}
		}
	}
}

// mirror keeps the session record in step with what the client is told.
func (s *Server) mirror(sessionID string, msg any) {
	switch m := msg.(type) {
	case protocol.SessionState:
		_ = s.sessions.MirrorState(sessionID, m.State, m.SampleRate)
	case protocol.PlaybackStop:
		_ = s.sessions.RecordBargeIn(sessionID)
	}
}

func (s *Server) queueDirect(direct chan<- any, msg protocol.ErrorEvent) {
	select {
	case direct <- msg:
		s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "queued")
	default:
		s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "drop_full")
	}
}

var errSessionMismatch = errors.New("session_id does not match connection")

func gatewayError(sessionID, code string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: false,
		Detail:    err.Error(),
	}
}
