package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var ErrInvalidTransition = errors.New("invalid tool call transition")

const feedbackLimit = 280

// Log is the append-only audit trail of tool calls across sessions. It
// enforces monotonic status transitions before writing to the Store.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	latest map[string]Status
}

func NewLog(store Store, logger *slog.Logger) *Log {
	if store == nil {
		store = NewInMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		latest: make(map[string]Status),
	}
}

// Record appends one transition. Terminal entries get Feedback filled in
// when empty.
func (l *Log) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.SessionID == "" || entry.CallID == "" {
		return Entry{}, fmt.Errorf("record history: session and call id required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	if entry.Status.Terminal() && entry.Feedback == "" {
		entry.Feedback = Feedback(entry)
	}

	key := entry.SessionID + "\x00" + entry.CallID
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.latest[key]
	if prev.Terminal() {
		return Entry{}, ErrDuplicateTerminal
	}
	if !allowed(prev, entry.Status) {
		return Entry{}, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, prev, entry.Status)
	}
	if err := l.store.Append(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateTerminal) {
			l.latest[key] = entry.Status
			return Entry{}, err
		}
		l.logger.Warn("history append failed", "session_id", entry.SessionID, "call_id", entry.CallID, "error", err)
		return Entry{}, err
	}
	l.latest[key] = entry.Status
	return entry, nil
}

// Entries returns every transition for a session in order.
func (l *Log) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	return l.store.List(ctx, sessionID)
}

// Calls returns the latest entry per call, in first-seen order.
func (l *Log) Calls(ctx context.Context, sessionID string) ([]Entry, error) {
	entries, err := l.store.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int)
	var out []Entry
	for _, e := range entries {
		if i, ok := idx[e.CallID]; ok {
			out[i] = e
			continue
		}
		idx[e.CallID] = len(out)
		out = append(out, e)
	}
	return out, nil
}

// Status returns the latest known status of a call.
func (l *Log) Status(sessionID, callID string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.latest[sessionID+"\x00"+callID]
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

// Forget drops the transition index for a finished session. Stored
// entries are untouched.
func (l *Log) Forget(sessionID string) {
	prefix := sessionID + "\x00"
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.latest {
		if strings.HasPrefix(k, prefix) {
			delete(l.latest, k)
		}
	}
}

// Tracked is the number of calls in the transition index.
func (l *Log) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.latest)
}

func (l *Log) Close() error {
	return l.store.Close()
}

func allowed(from, to Status) bool {
	switch from {
	case "":
		return to == StatusPending
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// Feedback renders a terminal entry as the short line shown to the user
// and logged alongside the call.
func Feedback(e Entry) string {
	var b strings.Builder
	b.WriteString(e.Tool)
	switch e.Status {
	case StatusSucceeded:
		b.WriteString(" succeeded")
		if r := strings.TrimSpace(e.Response); r != "" {
			b.WriteString(": ")
			b.WriteString(r)
		}
	case StatusFailed:
		b.WriteString(" failed")
		if e.ErrorCode != "" {
			b.WriteString(" (" + e.ErrorCode + ")")
		}
		if e.ErrorMessage != "" {
			b.WriteString(": " + e.ErrorMessage)
		}
	case StatusRejected:
		b.WriteString(" cancelled")
		if e.ErrorMessage != "" {
			b.WriteString(": " + e.ErrorMessage)
		}
	default:
		b.WriteString(" " + string(e.Status))
	}
	return truncate(b.String(), feedbackLimit)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
