package voice

import (
	"time"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/protocol"
	"github.com/tweetyapp/voiced/internal/tools"
)

func (e *Engine) setState(next State) {
	prev := e.state
	if prev == next {
		return
	}
	e.state = next
	e.logger.Info("voice session state", "from", prev, "to", next, "reason", e.reason)
	e.deps.Metrics.ObserveState(string(next))
	if next == StateActive {
		e.deps.Metrics.AddActiveSessions(1)
	}
	if prev == StateActive {
		e.deps.Metrics.AddActiveSessions(-1)
	}

	msg := protocol.SessionState{
		Type:       protocol.TypeSessionState,
		SessionID:  e.opts.SessionID,
		State:      string(next),
		Previous:   string(prev),
		Provider:   e.caps.Provider,
		SampleRate: e.sampleRate,
	}
	if next == StateDisconnected || next == StateErrored || next == StateTerminating {
		msg.Reason = string(e.reason)
	}
	e.publish()
	e.emit(msg)
}

func (e *Engine) publish() {
	s := Snapshot{
		SessionID:  e.opts.SessionID,
		UserID:     e.opts.UserID,
		State:      e.state,
		EndReason:  e.reason,
		Provider:   e.caps.Provider,
		SampleRate: e.sampleRate,
		StartedAt:  e.startedAt,
		UpdatedAt:  e.now(),
	}
	if e.lastErr != nil {
		s.Err = e.lastErr.Error()
	}
	if e.orch != nil {
		for _, c := range e.orch.Calls() {
			if !c.Status.Terminal() {
				s.ActiveCalls = append(s.ActiveCalls, c.ID)
			}
		}
	}
	e.snap.Store(&s)
}

// emit never blocks on ordinary traffic. Critical messages wait briefly for
// a slow consumer before being dropped.
func (e *Engine) emit(msg any) {
	msgType, critical := protocol.TypeOf(msg)
	if !critical {
		select {
		case e.events <- msg:
			e.deps.Metrics.ObserveOutboundMessage(msgType, "delivered")
		default:
			e.deps.Metrics.ObserveOutboundMessage(msgType, "dropped")
			e.deps.Metrics.ObserveSessionEvent("outbound_drop")
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case e.events <- msg:
		e.deps.Metrics.ObserveOutboundMessage(msgType, "delivered")
	case <-timer.C:
		e.deps.Metrics.ObserveOutboundMessage(msgType, "timeout")
		e.deps.Metrics.ObserveSessionEvent("outbound_timeout_critical")
		e.deps.Metrics.ObserveSessionEvent("outbound_drop")
	}
}

func (e *Engine) emitError(code, source string, retryable bool, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	e.emit(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: e.opts.SessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func (e *Engine) emitSystem(code, detail string) {
	e.emit(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: e.opts.SessionID,
		Code:      code,
		Detail:    detail,
	})
}

func (e *Engine) emitUsage(bal *billing.Balance) {
	if e.meter == nil {
		return
	}
	msg := protocol.UsageUpdate{
		Type:      protocol.TypeUsageUpdate,
		SessionID: e.opts.SessionID,
		ElapsedMs: e.meter.Elapsed().Milliseconds(),
		BilledMs:  e.meter.Billed().Milliseconds(),
	}
	if bal != nil {
		remaining := bal.Remaining
		msg.Remaining = &remaining
	}
	e.emit(msg)
}

func (e *Engine) callUpdated(c tools.Call) {
	msg := protocol.ToolCallUpdate{
		Type:      protocol.TypeToolCallUpdate,
		SessionID: e.opts.SessionID,
		CallID:    c.ID,
		Tool:      c.Name,
		Status:    string(c.Status),
	}
	if c.Result != nil && c.Result.Error != nil {
		msg.ErrorCode = string(c.Result.Error.Code)
	}
	e.emit(msg)
}

func (e *Engine) audioChunk(itemID, b64 string) protocol.AssistantAudioChunk {
	return protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   e.opts.SessionID,
		ItemID:      itemID,
		Seq:         e.audioSeq,
		Format:      "pcm16",
		SampleRate:  e.sampleRate,
		AudioBase64: b64,
	}
}

func (e *Engine) playbackStop(tr audio.Truncation) protocol.PlaybackStop {
	return protocol.PlaybackStop{
		Type:      protocol.TypePlaybackStop,
		SessionID: e.opts.SessionID,
		ItemID:    tr.ItemID,
		PlayedMs:  tr.Played.Milliseconds(),
	}
}

func (e *Engine) confirmationRequest(c tools.Confirmation) protocol.ConfirmationRequest {
	return protocol.ConfirmationRequest{
		Type:      protocol.TypeConfirmationRequest,
		SessionID: e.opts.SessionID,
		CallID:    c.CallID,
		Tool:      c.Tool,
		Title:     c.Title,
		Content:   c.Content,
		Risk:      c.Risk,
	}
}
