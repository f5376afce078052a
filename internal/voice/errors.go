package voice

import (
	"errors"
	"fmt"
)

var (
	ErrEngineClosed = errors.New("voice engine is closed")
	ErrMailboxFull  = errors.New("voice engine mailbox is full")
)

type SetupErrorKind string

const (
	SetupConnectionFailed    SetupErrorKind = "connection_failed"
	SetupConfigurationFailed SetupErrorKind = "configuration_failed"
	SetupInsufficientCredits SetupErrorKind = "insufficient_credits"
	SetupNotConnected        SetupErrorKind = "not_connected"
)

// SetupError ends a connect attempt before the session became active.
type SetupError struct {
	Kind SetupErrorKind
	Err  error
}

func (e *SetupError) Error() string {
	if e.Err == nil {
		return "voice setup: " + string(e.Kind)
	}
	return fmt.Sprintf("voice setup: %s: %v", e.Kind, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

type SessionErrorKind string

const (
	SessionInsufficientCredits SessionErrorKind = "insufficient_credits"
	SessionUsageTrackingFailed SessionErrorKind = "usage_tracking_failed"
	SessionTransport           SessionErrorKind = "transport"
)

// SessionError is raised while a session is live. Only transport and
// insufficient credits errors end the session.
type SessionError struct {
	Kind SessionErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return "voice session: " + string(e.Kind)
	}
	return fmt.Sprintf("voice session: %s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
