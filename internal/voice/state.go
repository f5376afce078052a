package voice

import "time"

// State is the engine lifecycle state.
type State string

const (
	StateDisconnected          State = "disconnected"
	StateConnecting            State = "connecting"
	StateAwaitingConfiguration State = "awaiting_configuration"
	StateActive                State = "active"
	StateTerminating           State = "terminating"
	StateErrored               State = "errored"
)

// Connectable reports whether Connect is accepted in s.
func (s State) Connectable() bool {
	return s == StateDisconnected || s == StateErrored
}

// EndReason records why a session left the active path.
type EndReason string

const (
	ReasonUser         EndReason = "user"
	ReasonOutOfCredits EndReason = "out_of_credits"
	ReasonError        EndReason = "error"
	ReasonShutdown     EndReason = "shutdown"
	ReasonSetupFailed  EndReason = "setup_failed"
)

// Snapshot is a point-in-time copy of engine state, safe to read from any
// goroutine.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	State       State     `json:"state"`
	EndReason   EndReason `json:"end_reason,omitempty"`
	Err         string    `json:"error,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	SampleRate  int       `json:"sample_rate,omitempty"`
	ActiveCalls []string  `json:"active_calls,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
