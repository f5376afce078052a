package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/reliability"
)

const (
	defaultSampleRate = 24000
	writeTimeout      = 10 * time.Second
	eventBuffer       = 256
)

// WSAdapter carries a Dialect over a single websocket connection.
type WSAdapter struct {
	dialect Dialect
	dialer  *websocket.Dialer
	metrics *observability.Metrics

	mu         sync.Mutex
	sess       *wsSession
	sampleRate int
}

type WSOptions struct {
	SampleRate int
	Metrics    *observability.Metrics
	Dialer     *websocket.Dialer
}

func NewWSAdapter(dialect Dialect, opts WSOptions) *WSAdapter {
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		dialer = &d
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	return &WSAdapter{
		dialect:    dialect,
		dialer:     dialer,
		metrics:    opts.Metrics,
		sampleRate: rate,
	}
}

func (a *WSAdapter) Connect(ctx context.Context, token string) (<-chan Event, error) {
	a.mu.Lock()
	if a.sess != nil {
		a.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	a.mu.Unlock()

	target, headers, err := a.dialect.DialTarget(token)
	if err != nil {
		return nil, err
	}
	conn, _, err := a.dialer.DialContext(ctx, target, headers)
	if err != nil {
		a.metrics.ObserveProviderError(a.dialect.Name(), "dial")
		return nil, fmt.Errorf("dial %s realtime websocket: %w", a.dialect.Name(), err)
	}

	s := &wsSession{
		conn:    conn,
		dialect: a.dialect,
		metrics: a.metrics,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	a.mu.Lock()
	if a.sess != nil {
		a.mu.Unlock()
		_ = conn.Close()
		return nil, ErrAlreadyConnected
	}
	a.sess = s
	a.mu.Unlock()

	go s.readLoop()
	return s.events, nil
}

func (a *WSAdapter) ConfigureSession(ctx context.Context, cfg SessionConfig) error {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = a.SampleRate()
	}
	a.mu.Lock()
	a.sampleRate = cfg.SampleRate
	a.mu.Unlock()
	return a.write(ctx, a.dialect.SessionUpdate(cfg))
}

func (a *WSAdapter) SendAudioChunk(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return a.write(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

func (a *WSAdapter) CommitAudioBuffer(ctx context.Context) error {
	return a.write(ctx, map[string]any{"type": "input_audio_buffer.commit"})
}

func (a *WSAdapter) CreateResponse(ctx context.Context) error {
	return a.write(ctx, map[string]any{"type": "response.create"})
}

// SendToolOutput submits a function_call_output item. The success flag is
// already encoded in output; the wire item has no separate field for it.
func (a *WSAdapter) SendToolOutput(ctx context.Context, callID, output string, _ bool) error {
	return a.write(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (a *WSAdapter) Truncate(ctx context.Context, itemID string, audioEnd time.Duration) error {
	if audioEnd < 0 {
		audioEnd = 0
	}
	return a.write(ctx, map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  audioEnd.Milliseconds(),
	})
}

func (a *WSAdapter) Disconnect() error {
	a.mu.Lock()
	s := a.sess
	a.sess = nil
	a.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.close()
}

func (a *WSAdapter) SampleRate() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate
}

func (a *WSAdapter) Capabilities() Capabilities {
	return a.dialect.Capabilities()
}

func (a *WSAdapter) write(ctx context.Context, payload map[string]any) error {
	a.mu.Lock()
	s := a.sess
	a.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	return s.writeJSON(ctx, payload)
}

// wsSession is one live connection. readLoop is the only sender on events
// and closes it on exit.
type wsSession struct {
	conn      *websocket.Conn
	dialect   Dialect
	metrics   *observability.Metrics
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
	done      chan struct{}

	// owned by readLoop
	created      bool
	speakingItem string
	seenCalls    map[string]struct{}
}

func (s *wsSession) writeJSON(ctx context.Context, payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	msgType := asString(payload["type"])
	if err := s.conn.WriteJSON(payload); err != nil {
		s.metrics.ObserveProviderError(s.dialect.Name(), "write")
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	s.metrics.ObserveProviderMessage(s.dialect.Name(), "outbound", msgType)
	return nil
}

func (s *wsSession) close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *wsSession) readLoop() {
	defer close(s.events)
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.metrics.ObserveProviderError(s.dialect.Name(), "read")
				s.emit(Event{Type: EventError, Code: "transport_closed", Message: err.Error(), Fatal: true, At: time.Now()})
			}
			return
		}
		for _, ev := range s.decode(data) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *wsSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *wsSession) decode(data []byte) []Event {
	now := time.Now()
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return []Event{diagnostic("", "malformed message: "+err.Error(), now)}
	}
	wireType := asString(raw["type"])
	s.metrics.ObserveProviderMessage(s.dialect.Name(), "inbound", wireType)

	kind, known := s.dialect.Classify(wireType)
	if !known {
		return []Event{diagnostic(wireType, "unrecognized message type", now)}
	}

	switch kind {
	case "":
		return nil
	case EventSessionCreated:
		if s.created {
			return nil
		}
		s.created = true
		return []Event{{Type: EventSessionCreated, WireType: wireType, At: now}}
	case EventSessionConfigured:
		if !s.created {
			return []Event{diagnostic(wireType, "session configured before session created", now)}
		}
		return []Event{{Type: EventSessionConfigured, WireType: wireType, At: now}}
	case EventSpeechStarted, EventSpeechStopped:
		return []Event{{Type: kind, ItemID: asString(raw["item_id"]), WireType: wireType, At: now}}
	case EventAudioDelta:
		itemID := asString(raw["item_id"])
		pcm, err := base64.StdEncoding.DecodeString(asString(raw["delta"]))
		if err != nil {
			return []Event{diagnostic(wireType, "undecodable audio delta: "+err.Error(), now)}
		}
		out := make([]Event, 0, 2)
		if itemID != s.speakingItem {
			s.speakingItem = itemID
			out = append(out, Event{Type: EventAssistantSpeaking, ItemID: itemID, WireType: wireType, At: now})
		}
		return append(out, Event{Type: EventAudioDelta, ItemID: itemID, Audio: pcm, WireType: wireType, At: now})
	case EventToolCall:
		call := ToolCallRequest{
			CallID:    asString(raw["call_id"]),
			Name:      asString(raw["name"]),
			Arguments: asString(raw["arguments"]),
			ItemID:    asString(raw["item_id"]),
		}
		if call.CallID == "" || call.Name == "" {
			return []Event{diagnostic(wireType, "function call missing call_id or name", now)}
		}
		if _, dup := s.seenCalls[call.CallID]; dup {
			return []Event{diagnostic(wireType, "duplicate function call "+call.CallID, now)}
		}
		if s.seenCalls == nil {
			s.seenCalls = make(map[string]struct{})
		}
		s.seenCalls[call.CallID] = struct{}{}
		return []Event{{Type: EventToolCall, Call: call, ItemID: call.ItemID, WireType: wireType, At: now}}
	case EventError:
		errObj, _ := raw["error"].(map[string]any)
		code := asString(errObj["code"])
		if code == "" {
			code = asString(errObj["type"])
		}
		msg := asString(errObj["message"])
		if msg == "" {
			msg = asString(raw["message"])
		}
		s.metrics.ObserveProviderError(s.dialect.Name(), code)
		return []Event{{
			Type:      EventError,
			Code:      code,
			Message:   msg,
			Retryable: reliability.IsRetryableRealtimeErrorCode(code),
			WireType:  wireType,
			At:        now,
		}}
	default:
		return nil
	}
}

func diagnostic(wireType, message string, at time.Time) Event {
	return Event{Type: EventDiagnostic, WireType: wireType, Message: message, At: at}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
