package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/tools"
)

var errProviderClosed = errors.New("provider channel closed")

func (e *Engine) connect() {
	if !e.state.Connectable() {
		e.logger.Debug("connect ignored", "state", e.state)
		return
	}
	e.gen++
	e.reason = ""
	e.lastErr = nil
	e.connectStart = e.now()
	e.setState(StateConnecting)

	gen := e.gen
	actx, cancel := context.WithTimeout(e.ctx, e.opts.ConnectTimeout)
	e.attemptStop = cancel
	e.deadline = time.AfterFunc(e.opts.ConnectTimeout, func() {
		_ = e.post(connectDeadline{gen: gen})
	})
	go func() {
		events, kind, err := e.dial(actx)
		_ = e.post(connectResult{gen: gen, events: events, kind: kind, err: err})
	}()
}

// dial runs off the engine goroutine.
func (e *Engine) dial(ctx context.Context) (<-chan realtime.Event, SetupErrorKind, error) {
	if e.opts.CheckBalance && e.deps.Ledger != nil {
		bal, err := e.deps.Ledger.Balance(ctx, e.opts.UserID)
		switch {
		case err != nil:
			e.logger.Warn("balance pre-check failed", "error", err)
		case bal.Remaining <= 0:
			return nil, SetupInsufficientCredits, billing.ErrInsufficientCredits
		}
	}

	token := ""
	if e.deps.Issuer != nil {
		tok, err := e.deps.Issuer.IssueEphemeralToken(ctx)
		if err != nil {
			return nil, SetupConnectionFailed, fmt.Errorf("issue token: %w", err)
		}
		token = tok.Value
	}

	events, err := e.deps.Adapter.Connect(ctx, token)
	if err != nil {
		return nil, SetupConnectionFailed, fmt.Errorf("connect: %w", err)
	}
	return events, "", nil
}

func (e *Engine) connected(m connectResult) {
	if m.gen != e.gen || e.state != StateConnecting {
		if m.events != nil && e.state.Connectable() {
			_ = e.deps.Adapter.Disconnect()
		}
		return
	}
	if m.err != nil {
		e.failSetup(m.kind, m.err)
		return
	}
	e.startPump(m.events)
}

func (e *Engine) connectTimedOut(gen int) {
	if gen != e.gen {
		return
	}
	switch e.state {
	case StateConnecting:
		e.failSetup(SetupConnectionFailed, context.DeadlineExceeded)
	case StateAwaitingConfiguration:
		e.failSetup(SetupConfigurationFailed, context.DeadlineExceeded)
	}
}

func (e *Engine) startPump(events <-chan realtime.Event) {
	ctx, cancel := context.WithCancel(e.ctx)
	done := make(chan struct{})
	e.pumpStop, e.pumpDone = cancel, done

	gen := e.gen
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					e.postFrom(ctx, providerClosed{gen: gen})
					return
				}
				if !e.postFrom(ctx, providerEvent{gen: gen, ev: ev}) {
					return
				}
			}
		}
	}()
}

func (e *Engine) sessionCreated() {
	if e.state != StateConnecting {
		e.logger.Debug("session created outside connecting", "state", e.state)
		return
	}
	e.setState(StateAwaitingConfiguration)
	cfg := realtime.SessionConfig{
		Instructions:  e.opts.Instructions,
		Voice:         e.opts.Voice,
		SampleRate:    e.opts.SampleRate,
		TurnDetection: e.opts.TurnMode,
		Tools:         e.opts.Tools,
	}
	if err := e.deps.Adapter.ConfigureSession(e.ctx, cfg); err != nil {
		e.failSetup(SetupConfigurationFailed, err)
	}
}

func (e *Engine) sessionConfigured() {
	if e.state != StateAwaitingConfiguration {
		e.logger.Debug("session configured outside configuration", "state", e.state)
		return
	}
	e.stopAttempt()
	e.caps = e.deps.Adapter.Capabilities()
	e.sampleRate = e.deps.Adapter.SampleRate()
	e.startedAt = e.now()
	e.audioSeq = 0
	e.deps.Metrics.ObserveConnectLatency(e.startedAt.Sub(e.connectStart))

	e.pipeline = audio.NewPipeline(audio.PipelineConfig{
		SampleRate: e.sampleRate,
		Turn: audio.TurnConfig{
			SilenceDebounce: e.opts.SilenceDebounce,
			StreamAll:       e.opts.TurnMode == realtime.TurnServerVAD,
		},
		Classifier: e.deps.Classifier,
		Now:        e.now,
	}, e.deps.Sink)

	e.orch = tools.NewOrchestrator(tools.Config{
		SessionID: e.opts.SessionID,
		UserID:    e.opts.UserID,
		Gate:      e.deps.Gate,
		Confirmer: e.confirmer(),
		Executor:  e.deps.Executor,
		History:   e.deps.History,
		Timeout:   e.opts.ToolTimeout,
		Logger:    e.logger,
		Metrics:   e.deps.Metrics,
		OnUpdate:  e.callUpdated,
	}, e.deps.Adapter)

	if e.deps.Ledger != nil {
		gen := e.gen
		e.meter = billing.NewMeter(billing.MeterConfig{
			UserID: e.opts.UserID,
			Ledger: e.deps.Ledger,
			Now:    e.now,
			Ticks:  e.deps.MeterTicks,
			Notify: func(sig billing.Signal) {
				select {
				case e.signals <- meterSignal{gen: gen, sig: sig}:
				default:
					e.logger.Warn("usage signal dropped", "kind", sig.Kind)
				}
			},
			Logger:  e.logger,
			Metrics: e.deps.Metrics,
		})
		e.meter.Start(e.ctx)
	}

	e.setState(StateActive)

	if e.deps.Source != nil {
		gen := e.gen
		e.pipeline.StartCapture(e.ctx, e.deps.Source,
			func(f audio.Frame) bool {
				if !e.tryPost(captureFrame{gen: gen, frame: f}) {
					e.deps.Metrics.ObserveSessionEvent("capture_frame_dropped")
				}
				return true
			},
			func(err error) {
				e.tryPost(captureEnded{gen: gen, err: err})
			})
	}
}

func (e *Engine) disconnect(reason EndReason) {
	switch e.state {
	case StateDisconnected, StateErrored:
		e.emitError(string(SetupNotConnected), "client", false, &SetupError{Kind: SetupNotConnected})
		return
	case StateTerminating:
		return
	}
	e.terminate(StateDisconnected, reason, nil)
}

func (e *Engine) resolve(callID string, approved bool) {
	if e.orch == nil || e.state != StateActive {
		e.emitError(string(SetupNotConnected), "client", false, &SetupError{Kind: SetupNotConnected})
		return
	}
	if err := e.orch.Resolve(e.ctx, callID, approved); err != nil {
		e.emitError("confirmation_failed", "client", false, fmt.Errorf("resolve %s: %w", callID, err))
	}
	e.publish()
}

func (e *Engine) handleSignal(m meterSignal) {
	if m.gen != e.gen || e.state != StateActive {
		return
	}
	switch m.sig.Kind {
	case billing.SignalInsufficientCredits:
		bal := m.sig.Balance
		e.emitUsage(&bal)
		serr := &SessionError{Kind: SessionInsufficientCredits, Err: billing.ErrInsufficientCredits}
		e.emitError(string(serr.Kind), "billing", false, serr)
		e.terminate(StateDisconnected, ReasonOutOfCredits, serr)
	case billing.SignalTrackingError:
		serr := &SessionError{Kind: SessionUsageTrackingFailed, Err: m.sig.Err}
		e.emitError(string(serr.Kind), "billing", true, serr)
	}
}

func (e *Engine) providerLost() {
	e.fail(&SessionError{Kind: SessionTransport, Err: errProviderClosed})
}

// fail handles an unrecoverable channel error in any live state.
func (e *Engine) fail(err error) {
	switch e.state {
	case StateConnecting:
		e.failSetup(SetupConnectionFailed, err)
	case StateAwaitingConfiguration:
		e.failSetup(SetupConfigurationFailed, err)
	case StateActive:
		e.emitError(string(SessionTransport), "provider", false, err)
		e.terminate(StateErrored, ReasonError, err)
	}
}

func (e *Engine) failSetup(kind SetupErrorKind, err error) {
	serr := &SetupError{Kind: kind, Err: err}
	e.logger.Warn("voice session setup failed", "kind", kind, "error", err)
	e.emitError(string(kind), "setup", false, serr)
	final := StateDisconnected
	if kind == SetupConfigurationFailed {
		final = StateErrored
	}
	e.terminate(final, ReasonSetupFailed, serr)
}

// terminate tears the session down in a fixed order: capture, receive
// pump, meter flush, tool calls, playback, channel.
func (e *Engine) terminate(final State, reason EndReason, cause error) {
	if e.state == StateActive || e.state == StateAwaitingConfiguration {
		e.reason = reason
		e.setState(StateTerminating)
	}
	e.reason = reason
	e.lastErr = cause

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), teardownTimeout)
	defer cancel()

	e.stopAttempt()
	if e.pipeline != nil {
		e.pipeline.StopCapture()
	}
	if e.pumpStop != nil {
		e.pumpStop()
		<-e.pumpDone
		e.pumpStop, e.pumpDone = nil, nil
	}
	if e.meter != nil {
		if _, err := e.meter.Stop(ctx); err != nil {
			e.logger.Warn("final usage flush failed", "error", err)
		}
		e.emitUsage(nil)
		e.meter = nil
	}
	if e.orch != nil {
		e.orch.Shutdown(ctx)
		e.orch = nil
	}
	if e.deps.History != nil {
		e.deps.History.Forget(e.opts.SessionID)
	}
	if e.pipeline != nil {
		if err := e.pipeline.Stop(); err != nil {
			e.logger.Debug("playback stop failed", "error", err)
		}
		e.pipeline = nil
	}
	if err := e.deps.Adapter.Disconnect(); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		e.logger.Warn("realtime disconnect failed", "error", err)
	}

	e.gen++
	e.setState(final)
}

func (e *Engine) stopAttempt() {
	if e.deadline != nil {
		e.deadline.Stop()
		e.deadline = nil
	}
	if e.attemptStop != nil {
		e.attemptStop()
		e.attemptStop = nil
	}
}

// confirmer publishes every confirmation request before delegating.
func (e *Engine) confirmer() tools.Confirmer {
	notify := func(c tools.Confirmation) {
		e.emit(e.confirmationRequest(c))
	}
	if e.deps.Confirmer == nil {
		return tools.NewAsyncConfirmer(notify)
	}
	next := e.deps.Confirmer
	return tools.ConfirmerFunc(func(ctx context.Context, c tools.Confirmation) (bool, error) {
		notify(c)
		return next.RequestConfirmation(ctx, c)
	})
}
