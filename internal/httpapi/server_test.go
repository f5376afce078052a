package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/config"
	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/policy"
	"github.com/tweetyapp/voiced/internal/protocol"
	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/tools"
	"github.com/tweetyapp/voiced/internal/voice"
)

type mockEngines struct {
	logger *slog.Logger
}

func (f mockEngines) NewEngine(s *session.Session) (*voice.Engine, error) {
	adapter := realtime.NewMockAdapter()
	adapter.SpeakOnReply = false
	return voice.NewEngine(voice.Options{
		SessionID:  s.ID,
		UserID:     s.UserID,
		Voice:      s.Voice,
		SampleRate: 24000,
		Tools:      tools.Catalog(),
	}, voice.Deps{
		Adapter: adapter,
		Logger:  f.logger,
	})
}

type testServer struct {
	sessions *session.Manager
	ledger   *billing.MemoryLedger
	overr    *policy.InMemoryOverrides
	srv      *Server
	ts       *httptest.Server
}

func newTestServer(t *testing.T, metrics *observability.Metrics) *testServer {
	t.Helper()
	cfg := config.Config{
		RealtimeProvider: "mock",
		RealtimeVoice:    "Ara",
		BillingMode:      "memory",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager("mock", 2*time.Minute)
	ledger := billing.NewMemoryLedger(10, 1)
	overrides := policy.NewInMemoryOverrides()
	evaluator := policy.NewEvaluator(tools.DefaultPolicy(tools.Catalog()), policy.EvaluatorOptions{
		Overrides: overrides,
		Logger:    logger,
	})
	srv := New(cfg, Deps{
		Sessions: sessions,
		Engines:  mockEngines{logger: logger},
		Policy:   evaluator,
		History:  history.NewLog(history.NewInMemoryStore(), logger),
		Ledger:   ledger,
		Metrics:  metrics,
		Logger:   logger,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		srv.CloseAll()
		ts.Close()
	})
	return &testServer{sessions: sessions, ledger: ledger, overr: overrides, srv: srv, ts: ts}
}

func (s *testServer) createSession(t *testing.T, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	res, err := http.Post(s.ts.URL+"/v1/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created.Voice != "Ara" || created.Provider != "mock" {
		t.Fatalf("create response = %+v, want default voice and provider", created)
	}
	return created.SessionID
}

func (s *testServer) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/voice/session/ws?session_id=" + sessionID
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("ws dial error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ws read error = %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func stateIs(want string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		return m["type"] == string(protocol.TypeSessionState) && m["state"] == want
	}
}

func TestCreateGetAndEndSession(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createSession(t, "user-1")

	res, err := http.Get(s.ts.URL + "/v1/voice/session/" + id)
	if err != nil {
		t.Fatalf("get session request error = %v", err)
	}
	var got session.Session
	_ = json.NewDecoder(res.Body).Decode(&got)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || got.ID != id || got.EngineState != "disconnected" {
		t.Fatalf("get session = %d %+v", res.StatusCode, got)
	}

	endRes, err := http.Post(s.ts.URL+"/v1/voice/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	again, err := http.Post(s.ts.URL+"/v1/voice/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("second end request error = %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second end status = %d, want %d", again.StatusCode, http.StatusConflict)
	}

	missing, err := http.Get(s.ts.URL + "/v1/voice/session/nope")
	if err != nil {
		t.Fatalf("get missing request error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestSessionWSConnectAndDisconnect(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createSession(t, "user-1")
	conn := s.dial(t, id)

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionConnect}); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	active := readUntil(t, conn, stateIs("active"))
	if rate, _ := active["sample_rate"].(float64); rate != 24000 {
		t.Fatalf("active sample_rate = %v, want 24000", active["sample_rate"])
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.EngineState != "active" || sess.SampleRate != 24000 {
		t.Fatalf("mirrored session = %+v", sess)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: id, Action: protocol.ActionDisconnect}); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	readUntil(t, conn, stateIs("disconnected"))
}

func TestSessionWSRejectsBadMessages(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createSession(t, "user-1")
	conn := s.dial(t, id)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus: %v", err)
	}
	msg := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == string(protocol.TypeErrorEvent) })
	if msg["code"] != "invalid_client_message" || msg["source"] != "gateway" {
		t.Fatalf("error event = %+v", msg)
	}

	other := protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: "someone-else", Action: protocol.ActionConnect}
	if err := conn.WriteJSON(other); err != nil {
		t.Fatalf("write mismatched control: %v", err)
	}
	msg = readUntil(t, conn, func(m map[string]any) bool { return m["type"] == string(protocol.TypeErrorEvent) })
	if msg["code"] != "client_message_rejected" {
		t.Fatalf("error event = %+v, want client_message_rejected", msg)
	}
}

func TestSessionWSSingleConnectionAndEnd(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createSession(t, "user-1")
	conn := s.dial(t, id)

	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/v1/voice/session/ws?session_id=" + id
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("second ws dial succeeded, want conflict")
	}
	if res == nil || res.StatusCode != http.StatusConflict {
		t.Fatalf("second ws dial response = %+v, want 409", res)
	}

	endRes, err := http.Post(s.ts.URL+"/v1/voice/session/"+id+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	endRes.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				t.Fatalf("ws not closed after session end")
			}
			break
		}
	}

	_, res, err = websocket.DefaultDialer.Dial(url, nil)
	if err == nil || res == nil || res.StatusCode != http.StatusGone {
		t.Fatalf("dial after end = %v %+v, want 410", err, res)
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)
	res, err := http.Get(s.ts.URL + "/v1/voice/session/ws?session_id=missing")
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestToolPolicyOverrides(t *testing.T) {
	s := newTestServer(t, nil)

	put := func(body string) *http.Response {
		req, _ := http.NewRequest(http.MethodPut, s.ts.URL+"/v1/tools/policy", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT policy error = %v", err)
		}
		return res
	}

	res := put(`{"user_id":"u1","tool":"createTweet","mode":"auto"}`)
	var got policyResponse
	_ = json.NewDecoder(res.Body).Decode(&got)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d, want 200", res.StatusCode)
	}
	if got.Modes["createTweet"] != policy.ModeAuto || got.Overrides["createTweet"] != policy.ModeAuto {
		t.Fatalf("policy after override = %+v", got)
	}

	res = put(`{"user_id":"u1","tool":"notATool","mode":"auto"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown tool status = %d, want 400", res.StatusCode)
	}

	res = put(`{"user_id":"u1","tool":"createTweet","mode":"sometimes"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad mode status = %d, want 400", res.StatusCode)
	}

	res = put(`{"user_id":"u1","tool":"createTweet","mode":"default"}`)
	res.Body.Close()

	getRes, err := http.Get(s.ts.URL + "/v1/tools/policy?user_id=u1")
	if err != nil {
		t.Fatalf("GET policy error = %v", err)
	}
	got = policyResponse{}
	_ = json.NewDecoder(getRes.Body).Decode(&got)
	getRes.Body.Close()
	if _, ok := got.Overrides["createTweet"]; ok {
		t.Fatalf("override not cleared: %+v", got)
	}
	if got.Modes["createTweet"] != policy.ModeConfirm {
		t.Fatalf("createTweet mode = %q, want %q", got.Modes["createTweet"], policy.ModeConfirm)
	}
}

func TestBalanceAndToolCalls(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.createSession(t, "user-1")

	res, err := http.Get(s.ts.URL + "/v1/billing/balance?user_id=user-1")
	if err != nil {
		t.Fatalf("balance request error = %v", err)
	}
	var bal billing.Balance
	_ = json.NewDecoder(res.Body).Decode(&bal)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || bal.Remaining != 10 {
		t.Fatalf("balance = %d %+v, want 10 remaining", res.StatusCode, bal)
	}

	callsRes, err := http.Get(s.ts.URL + "/v1/voice/session/" + id + "/tool-calls")
	if err != nil {
		t.Fatalf("tool-calls request error = %v", err)
	}
	var calls struct {
		SessionID string          `json:"session_id"`
		Calls     []history.Entry `json:"calls"`
	}
	_ = json.NewDecoder(callsRes.Body).Decode(&calls)
	callsRes.Body.Close()
	if callsRes.StatusCode != http.StatusOK || calls.SessionID != id || len(calls.Calls) != 0 {
		t.Fatalf("tool-calls = %d %+v", callsRes.StatusCode, calls)
	}
}

func TestHealthAndLatency(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	metrics.ObserveStage(observability.StageConnect, 120*time.Millisecond)
	s := newTestServer(t, metrics)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(s.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}

	res, err := http.Get(s.ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("latency request error = %v", err)
	}
	defer res.Body.Close()
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("decode latency: %v", err)
	}
	found := false
	for _, st := range snap.Stages {
		if st.Stage == observability.StageConnect {
			found = true
		}
	}
	if !found {
		t.Fatalf("latency snapshot missing %s: %+v", observability.StageConnect, snap)
	}
}
