package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/credential"
	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/tools"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	teardownTimeout       = 5 * time.Second
	criticalSendTimeout   = 600 * time.Millisecond
	mailboxSize           = 256
	defaultEventBuffer    = 128
)

// Options describe one voice session.
type Options struct {
	SessionID       string
	UserID          string
	Instructions    string
	Voice           string
	SampleRate      int
	TurnMode        realtime.TurnDetection
	Tools           []realtime.ToolDefinition
	ConnectTimeout  time.Duration
	ToolTimeout     time.Duration
	SilenceDebounce time.Duration
	CheckBalance    bool
	EventBuffer     int
}

// Deps are the engine's collaborators. Only Adapter is required. Without a
// Ledger the session is not metered; without a Confirmer confirmation
// requests are published on Events and answered with ResolveConfirmation.
// MeterTicks replaces the usage meter's ticker.
type Deps struct {
	Adapter    realtime.Adapter
	Issuer     credential.Issuer
	Ledger     billing.Ledger
	Executor   tools.Executor
	Confirmer  tools.Confirmer
	Gate       tools.Gate
	History    *history.Log
	Source     audio.Source
	Sink       audio.Sink
	Classifier audio.Classifier
	MeterTicks <-chan time.Time
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

type connectCmd struct{}

type disconnectCmd struct {
	reason EndReason
}

type audioCmd struct {
	frame audio.Frame
}

type confirmCmd struct {
	callID   string
	approved bool
}

type connectResult struct {
	gen    int
	events <-chan realtime.Event
	kind   SetupErrorKind
	err    error
}

type connectDeadline struct {
	gen int
}

type providerEvent struct {
	gen int
	ev  realtime.Event
}

type providerClosed struct {
	gen int
}

type captureFrame struct {
	gen   int
	frame audio.Frame
}

type captureEnded struct {
	gen int
	err error
}

type meterSignal struct {
	gen int
	sig billing.Signal
}

// Engine runs one realtime voice session. All state is owned by the Run
// goroutine; public methods only post to its mailbox.
type Engine struct {
	opts    Options
	deps    Deps
	logger  *slog.Logger
	now     func() time.Time
	mailbox chan any
	signals chan meterSignal
	events  chan any
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]
	once    sync.Once

	ctx          context.Context
	state        State
	reason       EndReason
	lastErr      error
	gen          int
	caps         realtime.Capabilities
	sampleRate   int
	startedAt    time.Time
	connectStart time.Time
	attemptStop  context.CancelFunc
	deadline     *time.Timer
	pumpStop     context.CancelFunc
	pumpDone     chan struct{}
	pipeline     *audio.Pipeline
	meter        *billing.Meter
	orch         *tools.Orchestrator
	audioSeq     int
}

func NewEngine(opts Options, deps Deps) (*Engine, error) {
	if deps.Adapter == nil {
		return nil, errors.New("voice engine requires a realtime adapter")
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = tools.DefaultTimeout
	}
	if opts.SilenceDebounce <= 0 {
		opts.SilenceDebounce = audio.DefaultSilenceDebounce
	}
	if opts.TurnMode == "" {
		opts.TurnMode = realtime.TurnServerVAD
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := &Engine{
		opts:    opts,
		deps:    deps,
		logger:  deps.Logger.With("session_id", opts.SessionID, "user_id", opts.UserID),
		now:     deps.Now,
		mailbox: make(chan any, mailboxSize),
		signals: make(chan meterSignal, 8),
		events:  make(chan any, opts.EventBuffer),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		state:   StateDisconnected,
		caps:    deps.Adapter.Capabilities(),
	}
	e.publish()
	return e, nil
}

func (e *Engine) SessionID() string { return e.opts.SessionID }

// Events carries protocol messages describing every side effect. The
// channel is never closed; watch Done for the end of Run.
func (e *Engine) Events() <-chan any { return e.events }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() Snapshot { return *e.snap.Load() }

func (e *Engine) Connect() error { return e.post(connectCmd{}) }

func (e *Engine) Disconnect() error { return e.post(disconnectCmd{reason: ReasonUser}) }

// ResolveConfirmation answers a pending confirmation from the client.
func (e *Engine) ResolveConfirmation(callID string, approved bool) error {
	return e.post(confirmCmd{callID: callID, approved: approved})
}

// PushAudio queues one captured frame. Frames are dropped rather than
// blocking the caller when the mailbox is full.
func (e *Engine) PushAudio(f audio.Frame) error {
	if !e.tryPost(audioCmd{frame: f}) {
		select {
		case <-e.done:
			return ErrEngineClosed
		default:
		}
		e.deps.Metrics.ObserveSessionEvent("capture_frame_dropped")
		return ErrMailboxFull
	}
	return nil
}

// Run owns the engine until ctx ends, then tears down any live session.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("voice engine is already running")
	}
	defer e.once.Do(func() { close(e.done) })
	e.ctx = ctx

	for {
		var completions <-chan tools.Completion
		if e.orch != nil {
			completions = e.orch.Completions()
		}
		select {
		case <-ctx.Done():
			if !e.state.Connectable() {
				e.terminate(StateDisconnected, ReasonShutdown, nil)
			}
			return ctx.Err()
		case msg := <-e.mailbox:
			e.handle(msg)
		case sig := <-e.signals:
			e.handleSignal(sig)
		case c := <-completions:
			e.orch.Apply(ctx, c)
			e.publish()
		}
	}
}

func (e *Engine) handle(msg any) {
	switch m := msg.(type) {
	case connectCmd:
		e.connect()
	case disconnectCmd:
		e.disconnect(m.reason)
	case confirmCmd:
		e.resolve(m.callID, m.approved)
	case audioCmd:
		e.capture(m.frame)
	case captureFrame:
		if m.gen == e.gen {
			e.capture(m.frame)
		}
	case captureEnded:
		if m.gen == e.gen && m.err != nil {
			e.logger.Warn("audio capture ended", "error", m.err)
			e.emitSystem("capture_ended", m.err.Error())
		}
	case connectResult:
		e.connected(m)
	case connectDeadline:
		e.connectTimedOut(m.gen)
	case providerEvent:
		if m.gen == e.gen {
			e.route(m.ev)
		}
	case providerClosed:
		if m.gen == e.gen {
			e.providerLost()
		}
	}
}

func (e *Engine) post(msg any) error {
	select {
	case <-e.done:
		return ErrEngineClosed
	default:
	}
	select {
	case e.mailbox <- msg:
		return nil
	case <-e.done:
		return ErrEngineClosed
	}
}

// postFrom is post for producers that must also stop when ctx ends.
func (e *Engine) postFrom(ctx context.Context, msg any) bool {
	select {
	case e.mailbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

func (e *Engine) tryPost(msg any) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.mailbox <- msg:
		return true
	default:
		return false
	}
}
