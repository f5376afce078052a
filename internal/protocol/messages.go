package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk    MessageType = "client_audio_chunk"
	TypeClientControl       MessageType = "client_control"
	TypeClientConfirmation  MessageType = "client_confirmation"
	TypeSessionState        MessageType = "session_state"
	TypeAssistantAudio      MessageType = "assistant_audio_chunk"
	TypePlaybackStop        MessageType = "playback_stop"
	TypeConfirmationRequest MessageType = "confirmation_request"
	TypeToolCallUpdate      MessageType = "tool_call_update"
	TypeUsageUpdate         MessageType = "usage_update"
	TypeSystemEvent         MessageType = "system_event"
	TypeErrorEvent          MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// PCM decodes the chunk payload.
func (c ClientAudioChunk) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.PCM16Base64)
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	TSMs      int64       `json:"ts_ms,omitempty"`
}

type ClientConfirmation struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CallID    string      `json:"call_id"`
	Approved  bool        `json:"approved"`
}

type SessionState struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	State      string      `json:"state"`
	Previous   string      `json:"previous,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	SampleRate int         `json:"sample_rate,omitempty"`
}

type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ItemID      string      `json:"item_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	AudioBase64 string      `json:"audio_base64"`
}

type PlaybackStop struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ItemID    string      `json:"item_id"`
	PlayedMs  int64       `json:"played_ms"`
}

type ConfirmationRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CallID    string      `json:"call_id"`
	Tool      string      `json:"tool"`
	Title     string      `json:"title"`
	Content   string      `json:"content"`
	Risk      string      `json:"risk,omitempty"`
}

type ToolCallUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	CallID    string      `json:"call_id"`
	Tool      string      `json:"tool"`
	Status    string      `json:"status"`
	ErrorCode string      `json:"error_code,omitempty"`
}

type UsageUpdate struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ElapsedMs int64       `json:"elapsed_ms"`
	BilledMs  int64       `json:"billed_ms"`
	Remaining *float64    `json:"remaining,omitempty"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// TypeOf returns the wire type of an outbound message and whether losing it
// would leave a client out of sync.
func TypeOf(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case ClientAudioChunk:
		return string(m.Type), false
	case ClientControl:
		return string(m.Type), false
	case ClientConfirmation:
		return string(m.Type), false
	case SessionState:
		return string(m.Type), true
	case AssistantAudioChunk:
		return string(m.Type), false
	case PlaybackStop:
		return string(m.Type), true
	case ConfirmationRequest:
		return string(m.Type), true
	case ToolCallUpdate:
		return string(m.Type), true
	case UsageUpdate:
		return string(m.Type), false
	case SystemEvent:
		return string(m.Type), true
	case ErrorEvent:
		return string(m.Type), true
	default:
		return "unknown", false
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.SessionID == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionConnect, ActionDisconnect:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientConfirmation:
		var msg ClientConfirmation
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.CallID == "" {
			return nil, errors.New("invalid client_confirmation")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
