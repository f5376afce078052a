package history

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateTerminal = errors.New("call already has a terminal entry")
	ErrNotFound          = errors.New("no history for call")
)

// Status mirrors the tool call lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSucceeded Status = "executed_success"
	StatusFailed    Status = "executed_failure"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Entry is one status transition of one tool call.
type Entry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	CallID       string    `json:"call_id"`
	Tool         string    `json:"tool"`
	Status       Status    `json:"status"`
	Arguments    string    `json:"arguments,omitempty"`
	Response     string    `json:"response,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Feedback     string    `json:"feedback,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists history entries. Append must reject a second terminal
// entry for the same session and call with ErrDuplicateTerminal.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, sessionID string) ([]Entry, error)
	Close() error
}
