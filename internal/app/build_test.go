package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tweetyapp/voiced/internal/config"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/voice"
)

func testConfig(namespace string) config.Config {
	return config.Config{
		MetricsNamespace:         namespace,
		SessionInactivityTimeout: time.Minute,
		RealtimeProvider:         "mock",
		RealtimeVoice:            "Ara",
		RealtimeSampleRate:       24000,
		RealtimeTurnMode:         "server_vad",
		ToolTimeout:              time.Second,
		BillingMode:              "memory",
		BillingStartingCredits:   5,
		BillingMinuteCost:        1,
		VADSilenceDebounce:       time.Second,
		VADEnergyThreshold:       0.02,
	}
}

func uniqueNamespace(prefix string) string {
	return prefix + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000")
}

func TestBuildWiresMockProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := Build(context.Background(), testConfig(uniqueNamespace("test_app_build")), logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	if res.Realtime.Provider != "mock" {
		t.Fatalf("provider = %q, want mock", res.Realtime.Provider)
	}

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	ready, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("/readyz status = %d, want 200", ready.StatusCode)
	}

	sess := res.Sessions.Create(session.CreateRequest{UserID: "u1", Voice: "Eve"})
	engine, err := res.Engines.NewEngine(sess)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if engine.SessionID() != sess.ID {
		t.Fatalf("engine session id = %q, want %q", engine.SessionID(), sess.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = engine.Run(ctx) }()
	if err := engine.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for engine.Snapshot().State != voice.StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("engine state = %q, want active", engine.Snapshot().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-engine.Done()
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(uniqueNamespace("test_app_bad"))
	cfg.RealtimeProvider = "carrier-pigeon"
	if _, err := Build(context.Background(), cfg, nil); err == nil {
		t.Fatalf("Build() error = nil, want provider error")
	}
}

func TestNewLedgerPostgresNeedsPool(t *testing.T) {
	cfg := testConfig("unused")
	cfg.BillingMode = "postgres"
	if _, err := newLedger(cfg, nil); err == nil {
		t.Fatalf("newLedger() error = nil, want missing pool error")
	}
}

func TestNewLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "session_id", "s1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"session_id":"s1"`) {
		t.Fatalf("json record missing attribute: %s", out)
	}
}
