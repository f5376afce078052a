package voice

import (
	"encoding/base64"
	"errors"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/realtime"
)

func (e *Engine) route(ev realtime.Event) {
	e.deps.Metrics.ObserveProviderMessage(e.caps.Provider, "inbound", string(ev.Type))

	switch ev.Type {
	case realtime.EventSessionCreated:
		e.sessionCreated()
		return
	case realtime.EventSessionConfigured:
		e.sessionConfigured()
		return
	case realtime.EventError:
		e.providerError(ev)
		return
	case realtime.EventDiagnostic:
		e.logger.Debug("provider diagnostic", "wire_type", ev.WireType, "detail", ev.Message)
		return
	}

	if e.state != StateActive {
		e.logger.Debug("provider event outside active session dropped", "type", ev.Type, "state", e.state)
		e.deps.Metrics.ObserveSessionEvent("event_dropped_inactive")
		return
	}

	switch ev.Type {
	case realtime.EventAssistantSpeaking:
		e.pipeline.BeginItem(ev.ItemID)
	case realtime.EventAudioDelta:
		e.playDelta(ev)
	case realtime.EventSpeechStarted:
		e.bargeIn()
	case realtime.EventSpeechStopped:
		e.deps.Metrics.ObserveSessionEvent("speech_stopped")
	case realtime.EventToolCall:
		e.orch.Handle(e.ctx, ev.Call)
		e.publish()
	}
}

func (e *Engine) providerError(ev realtime.Event) {
	code := ev.Code
	if code == "" {
		code = "provider_error"
	}
	e.deps.Metrics.ObserveProviderError(e.caps.Provider, code)
	err := errors.New(ev.Message)
	if !ev.Fatal {
		e.logger.Warn("provider error", "code", code, "retryable", ev.Retryable, "message", ev.Message)
		e.emitError(code, "provider", ev.Retryable, err)
		return
	}
	e.fail(&SessionError{Kind: SessionTransport, Err: err})
}

func (e *Engine) playDelta(ev realtime.Event) {
	played, err := e.pipeline.Play(ev.ItemID, ev.Audio)
	if err != nil {
		e.logger.Warn("playback write failed", "item_id", ev.ItemID, "error", err)
	}
	if !played {
		e.deps.Metrics.ObserveSessionEvent("late_delta_dropped")
		return
	}
	e.audioSeq++
	e.emit(e.audioChunk(ev.ItemID, base64.StdEncoding.EncodeToString(ev.Audio)))
}

// bargeIn cuts the audible assistant item, at most once per item.
func (e *Engine) bargeIn() {
	tr, ok, err := e.pipeline.Interrupt()
	if err != nil {
		e.logger.Debug("playback stop failed", "item_id", tr.ItemID, "error", err)
	}
	if !ok {
		return
	}
	e.deps.Metrics.ObserveBargeIn()
	if e.caps.Truncate {
		if err := e.deps.Adapter.Truncate(e.ctx, tr.ItemID, tr.Played); err != nil {
			e.logger.Warn("truncate failed", "item_id", tr.ItemID, "error", err)
		}
	}
	e.emit(e.playbackStop(tr))
}

func (e *Engine) capture(f audio.Frame) {
	if e.state != StateActive || e.pipeline == nil {
		return
	}
	if f.SampleRate > 0 && f.SampleRate != e.sampleRate {
		f.PCM = audio.ResamplePCM16(f.PCM, f.SampleRate, e.sampleRate)
	}
	f.SampleRate = e.sampleRate

	res := e.pipeline.Capture(f)
	if res.SpeechStarted {
		e.bargeIn()
	}
	for _, chunk := range res.Forward {
		if err := e.deps.Adapter.SendAudioChunk(e.ctx, chunk); err != nil {
			e.logger.Warn("send audio failed", "error", err)
			break
		}
	}
	if !res.TurnEnded || e.opts.TurnMode != realtime.TurnManual {
		return
	}
	if err := e.deps.Adapter.CommitAudioBuffer(e.ctx); err != nil {
		e.logger.Warn("commit audio failed", "error", err)
		return
	}
	if err := e.deps.Adapter.CreateResponse(e.ctx); err != nil {
		e.logger.Warn("create response failed", "error", err)
	}
}
