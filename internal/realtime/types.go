package realtime

import (
	"context"
	"errors"
	"time"
)

// EventType identifies provider-agnostic inbound event variants.
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionConfigured EventType = "session_configured"
	EventSpeechStarted     EventType = "speech_started"
	EventSpeechStopped     EventType = "speech_stopped"
	EventAssistantSpeaking EventType = "assistant_speaking"
	EventAudioDelta        EventType = "audio_delta"
	EventToolCall          EventType = "tool_call"
	EventError             EventType = "error"
	EventDiagnostic        EventType = "diagnostic"
)

var (
	ErrNotConnected     = errors.New("realtime channel is not connected")
	ErrAlreadyConnected = errors.New("realtime channel is already connected")
)

// ToolCallRequest is a function call whose arguments have been fully assembled.
type ToolCallRequest struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	ItemID    string `json:"item_id"`
}

// Event is one inbound occurrence on the realtime channel. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType
	ItemID    string
	Audio     []byte
	Call      ToolCallRequest
	Message   string
	Code      string
	Retryable bool
	// Fatal marks errors after which the channel is unusable.
	Fatal bool
	// WireType is the provider message type that produced the event.
	WireType string
	At       time.Time
}

// ToolDefinition describes one function exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	ReadOnly    bool           `json:"-"`
}

// TurnDetection selects who decides the end of a user turn.
type TurnDetection string

const (
	TurnServerVAD TurnDetection = "server_vad"
	TurnManual    TurnDetection = "manual"
)

// SessionConfig is sent once the provider announces the session.
type SessionConfig struct {
	Instructions  string
	Voice         string
	SampleRate    int
	TurnDetection TurnDetection
	Tools         []ToolDefinition
}

// Capabilities describes what a provider dialect supports.
type Capabilities struct {
	Provider  string
	ServerVAD bool
	Truncate  bool
}

// Adapter is the provider-agnostic realtime channel.
type Adapter interface {
	Connect(ctx context.Context, token string) (<-chan Event, error)
	ConfigureSession(ctx context.Context, cfg SessionConfig) error
	SendAudioChunk(ctx context.Context, pcm []byte) error
	CommitAudioBuffer(ctx context.Context) error
	CreateResponse(ctx context.Context) error
	SendToolOutput(ctx context.Context, callID, output string, success bool) error
	Truncate(ctx context.Context, itemID string, audioEnd time.Duration) error
	Disconnect() error
	SampleRate() int
	Capabilities() Capabilities
}
