package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen  Status = "open"
	StatusEnded Status = "ended"
)

// End reasons recorded by the registry itself.
const (
	EndReasonInactive = "inactive"
	EndReasonClient   = "client"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session already ended")
)

// Session is the registry record for one voice session. EngineState
// mirrors the voice engine and is updated by whoever bridges its events.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	Provider       string    `json:"provider"`
	Voice          string    `json:"voice"`
	Instructions   string    `json:"instructions,omitempty"`
	EngineState    string    `json:"engine_state"`
	SampleRate     int       `json:"sample_rate,omitempty"`
	BargeInCount   int       `json:"barge_in_count"`
	EndReason      string    `json:"end_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	provider          string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(provider string, inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		provider:          provider,
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

// SetExpireHook registers a callback for sessions ended by the janitor.
// It runs outside the registry lock.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create opens a session record. A user holds at most one open session;
// the previous one is ended with reason "replaced".
func (m *Manager) Create(req CreateRequest) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		Provider:       m.provider,
		Voice:          req.Voice,
		Instructions:   req.Instructions,
		Status:         StatusOpen,
		EngineState:    "disconnected",
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prevID, ok := m.sessionByUser[req.UserID]; ok && req.UserID != "" {
		if prev := m.sessions[prevID]; prev != nil && prev.Status == StatusOpen {
			prev.Status = StatusEnded
			prev.EndReason = "replaced"
			prev.LastActivityAt = now
		}
	}
	m.sessions[s.ID] = s
	if req.UserID != "" {
		m.sessionByUser[req.UserID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// ForUser returns the user's open session.
func (m *Manager) ForUser(userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(m.sessions[id]), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = m.now()
	return nil
}

// MirrorState records the engine state and, when known, the negotiated
// sample rate.
func (m *Manager) MirrorState(sessionID, state string, sampleRate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.EngineState = state
	if sampleRate > 0 {
		s.SampleRate = sampleRate
	}
	s.LastActivityAt = m.now()
	return nil
}

func (m *Manager) RecordBargeIn(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.BargeInCount++
	s.LastActivityAt = m.now()
	return nil
}

func (m *Manager) End(sessionID, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		return clone(s), ErrEnded
	}
	m.endLocked(s, reason, m.now())
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusOpen {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusOpen {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		m.endLocked(s, EndReasonInactive, now)
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) endLocked(s *Session, reason string, now time.Time) {
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivityAt = now
	if s.UserID != "" && m.sessionByUser[s.UserID] == s.ID {
		delete(m.sessionByUser, s.UserID)
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
