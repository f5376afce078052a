package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scriptedLedger struct {
	mu      sync.Mutex
	charges []float64
	fail    []error
	balance Balance
	charged chan float64
}

func newScriptedLedger(remaining float64) *scriptedLedger {
	return &scriptedLedger{
		balance: Balance{UserID: "u1", Total: remaining, Remaining: remaining},
		charged: make(chan float64, 16),
	}
}

func (l *scriptedLedger) ChargeMinutes(_ context.Context, _ string, minutes float64) (Balance, error) {
	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		l.charged <- minutes
	}()
	if len(l.fail) > 0 {
		err := l.fail[0]
		l.fail = l.fail[1:]
		if err != nil {
			return Balance{}, err
		}
	}
	l.charges = append(l.charges, minutes)
	l.balance.Spent += minutes
	l.balance.Remaining = l.balance.Total - l.balance.Spent
	return l.balance, nil
}

func (l *scriptedLedger) Balance(context.Context, string) (Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *scriptedLedger) recorded() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.charges...)
}

type meterHarness struct {
	clock   *fakeClock
	ticks   chan time.Time
	ledger  *scriptedLedger
	meter   *Meter
	mu      sync.Mutex
	signals []Signal
}

func newMeterHarness(remaining float64) *meterHarness {
	h := &meterHarness{
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		ticks:  make(chan time.Time),
		ledger: newScriptedLedger(remaining),
	}
	h.meter = NewMeter(MeterConfig{
		UserID: "u1",
		Ledger: h.ledger,
		Now:    h.clock.Now,
		Ticks:  h.ticks,
		Notify: func(s Signal) {
			h.mu.Lock()
			h.signals = append(h.signals, s)
			h.mu.Unlock()
		},
	})
	return h
}

// advance moves the clock second by second, ticking each time.
func (h *meterHarness) advance(d time.Duration) {
	for step := time.Duration(0); step < d; step += time.Second {
		h.clock.Advance(time.Second)
		h.ticks <- h.clock.Now()
	}
}

func (h *meterHarness) awaitCharge(t *testing.T) float64 {
	t.Helper()
	select {
	case m := <-h.ledger.charged:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no charge")
		return 0
	}
}

func (h *meterHarness) signalKinds() []SignalKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SignalKind, len(h.signals))
	for i, s := range h.signals {
		out[i] = s.Kind
	}
	return out
}

func TestMeterSixtyOneSeconds(t *testing.T) {
	h := newMeterHarness(100)
	h.meter.Start(context.Background())

	h.advance(60 * time.Second)
	assert.Equal(t, 1.0, h.awaitCharge(t))
	h.advance(time.Second)

	flushed, err := h.meter.Stop(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0/60.0, flushed, 1e-9)

	charges := h.ledger.recorded()
	require.Len(t, charges, 2)
	assert.Equal(t, 1.0, charges[0])
	assert.InDelta(t, 1.0/60.0, charges[1], 1e-9)
	assert.Equal(t, 61*time.Second, h.meter.Billed())
	assert.Empty(t, h.signalKinds())
}

func TestMeterNoChargeBeforeFirstMinute(t *testing.T) {
	h := newMeterHarness(100)
	h.meter.Start(context.Background())
	h.advance(59 * time.Second)
	assert.Empty(t, h.ledger.recorded())

	flushed, err := h.meter.Stop(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 59.0/60.0, flushed, 1e-9)
}

func TestMeterAccruesAfterFailureWithoutImmediateRetry(t *testing.T) {
	h := newMeterHarness(100)
	h.ledger.fail = []error{errors.New("credits service down")}
	h.meter.Start(context.Background())

	h.advance(60 * time.Second)
	h.awaitCharge(t)
	h.advance(30 * time.Second)
	assert.Empty(t, h.ledger.recorded())
	assert.Equal(t, []SignalKind{SignalTrackingError}, h.signalKinds())

	h.advance(30 * time.Second)
	assert.Equal(t, 2.0, h.awaitCharge(t))
	assert.Equal(t, []float64{2}, h.ledger.recorded())

	_, err := h.meter.Stop(context.Background())
	require.NoError(t, err)
}

func TestMeterSignalsInsufficientCredits(t *testing.T) {
	h := newMeterHarness(1)
	h.meter.Start(context.Background())
	h.advance(60 * time.Second)
	h.awaitCharge(t)

	require.Eventually(t, func() bool {
		return len(h.signalKinds()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []SignalKind{SignalInsufficientCredits}, h.signalKinds())
	_, _ = h.meter.Stop(context.Background())
}

func TestMeterStopIsIdempotent(t *testing.T) {
	h := newMeterHarness(100)
	flushed, err := h.meter.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)

	h.meter.Start(context.Background())
	h.clock.Advance(10 * time.Second)
	_, err = h.meter.Stop(context.Background())
	require.NoError(t, err)
	flushed, err = h.meter.Stop(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flushed)
	assert.Len(t, h.ledger.recorded(), 1)
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(10, 2)
	b, err := l.ChargeMinutes(ctx, "u", 1.5)
	require.NoError(t, err)
	assert.Equal(t, Balance{UserID: "u", Spent: 3, Total: 10, Remaining: 7}, b)

	b = l.Grant("u", 5)
	assert.Equal(t, 12.0, b.Remaining)

	b, err = l.Balance(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 10.0, b.Remaining)
}
