package realtime

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Dialect maps the shared realtime semantics onto one provider's wire format.
type Dialect interface {
	Name() string
	DialTarget(token string) (string, http.Header, error)
	Capabilities() Capabilities
	SessionUpdate(cfg SessionConfig) map[string]any
	// Classify maps a wire message type to an event type. ok is false for
	// types the dialect does not know; an empty EventType with ok=true means
	// the message is understood but carries nothing for the engine.
	Classify(wireType string) (EventType, bool)
}

// ignoredWireTypes are understood by both dialects but not surfaced.
var ignoredWireTypes = toSet(
	"response.created",
	"response.done",
	"response.output_item.added",
	"response.output_item.done",
	"response.content_part.added",
	"response.content_part.done",
	"response.output_audio.done",
	"response.audio.done",
	"response.output_audio_transcript.delta",
	"response.output_audio_transcript.done",
	"response.audio_transcript.delta",
	"response.audio_transcript.done",
	"response.function_call_arguments.delta",
	"response.text.delta",
	"response.text.done",
	"input_audio_buffer.committed",
	"input_audio_buffer.cleared",
	"conversation.item.created",
	"conversation.item.added",
	"conversation.item.done",
	"conversation.item.truncated",
	"conversation.item.input_audio_transcription.delta",
	"conversation.item.input_audio_transcription.completed",
	"rate_limits.updated",
	"ping",
)

func toSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func classifyShared(wireType string) (EventType, bool) {
	switch wireType {
	case "session.updated":
		return EventSessionConfigured, true
	case "input_audio_buffer.speech_started":
		return EventSpeechStarted, true
	case "input_audio_buffer.speech_stopped":
		return EventSpeechStopped, true
	case "response.output_audio.delta", "response.audio.delta":
		return EventAudioDelta, true
	case "response.function_call_arguments.done":
		return EventToolCall, true
	case "error":
		return EventError, true
	}
	if _, ok := ignoredWireTypes[wireType]; ok {
		return "", true
	}
	return "", false
}

// XAIDialect speaks the Grok voice realtime protocol.
type XAIDialect struct {
	URL string
}

func (d XAIDialect) Name() string { return "xai" }

func (d XAIDialect) DialTarget(token string) (string, http.Header, error) {
	u := strings.TrimSpace(d.URL)
	if u == "" {
		u = "wss://api.x.ai/v1/realtime"
	}
	if _, err := url.Parse(u); err != nil {
		return "", nil, fmt.Errorf("parse xai realtime url: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	return u, headers, nil
}

func (d XAIDialect) Capabilities() Capabilities {
	return Capabilities{Provider: d.Name(), ServerVAD: true, Truncate: true}
}

func (d XAIDialect) SessionUpdate(cfg SessionConfig) map[string]any {
	format := map[string]any{"type": "audio/pcm", "rate": cfg.SampleRate}
	session := map[string]any{
		"instructions": cfg.Instructions,
		"voice":        cfg.Voice,
		"audio": map[string]any{
			"input":  map[string]any{"format": format},
			"output": map[string]any{"format": format},
		},
	}
	if cfg.TurnDetection == TurnServerVAD {
		session["turn_detection"] = map[string]any{"type": "server_vad"}
	} else {
		session["turn_detection"] = nil
	}
	if len(cfg.Tools) > 0 {
		session["tools"] = toolPayload(cfg.Tools)
		session["tool_choice"] = "auto"
	}
	return map[string]any{"type": "session.update", "session": session}
}

func (d XAIDialect) Classify(wireType string) (EventType, bool) {
	switch wireType {
	case "conversation.created", "session.created":
		// Either may arrive first; the transport surfaces only the first one.
		return EventSessionCreated, true
	}
	return classifyShared(wireType)
}

// OpenAIDialect speaks the OpenAI realtime protocol.
type OpenAIDialect struct {
	URL   string
	Model string
}

func (d OpenAIDialect) Name() string { return "openai" }

func (d OpenAIDialect) DialTarget(token string) (string, http.Header, error) {
	raw := strings.TrimSpace(d.URL)
	if raw == "" {
		raw = "wss://api.openai.com/v1/realtime"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse openai realtime url: %w", err)
	}
	if model := strings.TrimSpace(d.Model); model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	return u.String(), headers, nil
}

func (d OpenAIDialect) Capabilities() Capabilities {
	return Capabilities{Provider: d.Name(), ServerVAD: true, Truncate: true}
}

func (d OpenAIDialect) SessionUpdate(cfg SessionConfig) map[string]any {
	format := map[string]any{"type": "audio/pcm", "rate": cfg.SampleRate}
	input := map[string]any{"format": format}
	if cfg.TurnDetection == TurnServerVAD {
		input["turn_detection"] = map[string]any{"type": "server_vad"}
	} else {
		input["turn_detection"] = nil
	}
	session := map[string]any{
		"type":              "realtime",
		"instructions":      cfg.Instructions,
		"output_modalities": []string{"audio"},
		"audio": map[string]any{
			"input":  input,
			"output": map[string]any{"format": format, "voice": cfg.Voice},
		},
	}
	if d.Model != "" {
		session["model"] = d.Model
	}
	if len(cfg.Tools) > 0 {
		session["tools"] = toolPayload(cfg.Tools)
		session["tool_choice"] = "auto"
	}
	return map[string]any{"type": "session.update", "session": session}
}

func (d OpenAIDialect) Classify(wireType string) (EventType, bool) {
	if wireType == "session.created" {
		return EventSessionCreated, true
	}
	if wireType == "conversation.created" {
		return "", true
	}
	return classifyShared(wireType)
}

func toolPayload(tools []ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}
	return out
}
