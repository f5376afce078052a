package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager("xai", time.Minute)
	s := m.Create(CreateRequest{UserID: "u1", Voice: "Ara"})
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.Voice != "Ara" || got.Provider != "xai" || got.Status != StatusOpen {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if got.EngineState != "disconnected" {
		t.Fatalf("EngineState = %q, want disconnected", got.EngineState)
	}

	ended, err := m.End(s.ID, "user")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != "user" {
		t.Fatalf("ended session = %+v", ended)
	}
	if _, err := m.End(s.ID, "user"); !errors.Is(err, ErrEnded) {
		t.Fatalf("second End() error = %v, want ErrEnded", err)
	}
	if _, err := m.ForUser("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ForUser() after end error = %v, want ErrNotFound", err)
	}
}

func TestManagerCreateReplacesOpenSession(t *testing.T) {
	m := NewManager("xai", time.Minute)
	first := m.Create(CreateRequest{UserID: "u1"})
	second := m.Create(CreateRequest{UserID: "u1"})

	got, err := m.Get(first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded || got.EndReason != "replaced" {
		t.Fatalf("first session = %+v, want ended/replaced", got)
	}
	current, err := m.ForUser("u1")
	if err != nil || current.ID != second.ID {
		t.Fatalf("ForUser() = %+v, %v; want %s", current, err, second.ID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}
}

func TestManagerMirrorStateAndBargeIns(t *testing.T) {
	m := NewManager("openai", time.Minute)
	s := m.Create(CreateRequest{UserID: "u1"})
	if err := m.MirrorState(s.ID, "active", 24000); err != nil {
		t.Fatalf("MirrorState() error = %v", err)
	}
	if err := m.RecordBargeIn(s.ID); err != nil {
		t.Fatalf("RecordBargeIn() error = %v", err)
	}
	if err := m.MirrorState(s.ID, "terminating", 0); err != nil {
		t.Fatalf("MirrorState() error = %v", err)
	}

	got, _ := m.Get(s.ID)
	if got.EngineState != "terminating" || got.SampleRate != 24000 || got.BargeInCount != 1 {
		t.Fatalf("unexpected mirrored session: %+v", got)
	}
	if err := m.MirrorState("missing", "active", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MirrorState(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager("xai", 30*time.Millisecond)
	var expired atomic.Int32
	m.SetExpireHook(func(s *Session) {
		if s.EndReason == EndReasonInactive {
			expired.Add(1)
		}
	})
	s := m.Create(CreateRequest{UserID: "u1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
	if expired.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", expired.Load())
	}
}
