package billing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tweetyapp/voiced/internal/observability"
)

const (
	DefaultTick          = time.Second
	BillingInterval      = time.Minute
	defaultChargeTimeout = 10 * time.Second
)

type SignalKind string

const (
	SignalInsufficientCredits SignalKind = "insufficient_credits"
	SignalTrackingError       SignalKind = "usage_tracking_failed"
)

// Signal reports a charge outcome the session must react to.
type Signal struct {
	Kind    SignalKind
	Balance Balance
	Err     error
}

// MeterConfig configures a Meter. Ticks replaces the internal ticker when
// set. Notify runs on whichever goroutine made the charge and must not
// block.
type MeterConfig struct {
	UserID        string
	Ledger        Ledger
	Tick          time.Duration
	ChargeTimeout time.Duration
	Now           func() time.Time
	Ticks         <-chan time.Time
	Notify        func(Signal)
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// Meter bills active session time in whole minutes against a Ledger.
// Charges run on the meter goroutine one at a time.
type Meter struct {
	cfg MeterConfig

	mu        sync.Mutex
	started   time.Time
	billed    time.Duration
	attempted int
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
}

func NewMeter(cfg MeterConfig) *Meter {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.ChargeTimeout <= 0 {
		cfg.ChargeTimeout = defaultChargeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Meter{cfg: cfg}
}

// Start begins metering from now. It is a no-op if already started.
func (m *Meter) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}
	m.started = m.cfg.Now()
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	ticks := m.cfg.Ticks
	var ticker *time.Ticker
	if ticks == nil {
		ticker = time.NewTicker(m.cfg.Tick)
		ticks = ticker.C
	}
	go m.run(ctx, ticks, ticker)
}

func (m *Meter) run(ctx context.Context, ticks <-chan time.Time, ticker *time.Ticker) {
	defer close(m.done)
	if ticker != nil {
		defer ticker.Stop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			m.tick(ctx)
		}
	}
}

func (m *Meter) tick(ctx context.Context) {
	m.mu.Lock()
	elapsed := m.cfg.Now().Sub(m.started)
	crossed := int(elapsed / BillingInterval)
	if crossed <= m.attempted {
		m.mu.Unlock()
		return
	}
	m.attempted = crossed
	due := time.Duration(crossed)*BillingInterval - m.billed
	m.mu.Unlock()

	if due <= 0 {
		return
	}
	minutes := float64(due / BillingInterval)
	if _, err := m.charge(ctx, "minute", minutes); err == nil {
		m.mu.Lock()
		m.billed += due
		m.mu.Unlock()
	}
}

// Stop halts the ticker, waits for an in-flight charge, and charges any
// unbilled time once, fractional minutes included. It returns the minutes
// flushed.
func (m *Meter) Stop(ctx context.Context) (float64, error) {
	m.mu.Lock()
	if m.done == nil || m.stopped {
		m.mu.Unlock()
		return 0, nil
	}
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	unbilled := m.cfg.Now().Sub(m.started) - m.billed
	m.mu.Unlock()
	if unbilled <= 0 {
		return 0, nil
	}

	minutes := unbilled.Minutes()
	if _, err := m.charge(ctx, "flush", minutes); err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.billed += unbilled
	m.mu.Unlock()
	return minutes, nil
}

// Elapsed is metered time so far.
func (m *Meter) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started.IsZero() {
		return 0
	}
	return m.cfg.Now().Sub(m.started)
}

// Billed is time already charged.
func (m *Meter) Billed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.billed
}

func (m *Meter) charge(parent context.Context, kind string, minutes float64) (Balance, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.cfg.ChargeTimeout)
	defer cancel()

	start := time.Now()
	bal, err := m.cfg.Ledger.ChargeMinutes(ctx, m.cfg.UserID, minutes)
	m.cfg.Metrics.ObserveStage(observability.StageCharge, time.Since(start))

	switch {
	case errors.Is(err, ErrInsufficientCredits):
		m.cfg.Metrics.ObserveCharge(kind, "ok", minutes)
		m.cfg.Logger.Info("usage exhausted credits", "user_id", m.cfg.UserID, "minutes", minutes)
		m.signal(Signal{Kind: SignalInsufficientCredits, Balance: bal})
		return bal, nil
	case err != nil:
		m.cfg.Metrics.ObserveCharge(kind, "error", minutes)
		m.cfg.Logger.Warn("usage charge failed", "user_id", m.cfg.UserID, "kind", kind, "minutes", minutes, "error", err)
		m.signal(Signal{Kind: SignalTrackingError, Err: err})
		return Balance{}, err
	}

	m.cfg.Metrics.ObserveCharge(kind, "ok", minutes)
	if bal.Remaining <= 0 {
		m.cfg.Logger.Info("usage exhausted credits", "user_id", m.cfg.UserID, "remaining", bal.Remaining)
		m.signal(Signal{Kind: SignalInsufficientCredits, Balance: bal})
	}
	return bal, nil
}

func (m *Meter) signal(s Signal) {
	if m.cfg.Notify != nil {
		m.cfg.Notify(s)
	}
}
