package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	SessionStates    *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	WSWriteErrors    *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderMessages *prometheus.CounterVec
	ToolCalls        *prometheus.CounterVec
	ConfirmationWait prometheus.Histogram
	ToolLatency      *prometheus.HistogramVec
	BillingCharges   *prometheus.CounterVec
	BilledMinutes    prometheus.Counter
	BargeIns         prometheus.Counter
	ConnectLatency   prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active realtime voice sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		SessionStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_state_transitions_total",
			Help:      "Session state machine transitions by target state.",
		}, []string{"state"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_write_errors_total",
			Help:      "WebSocket write failures by stage.",
		}, []string{"stage"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Session outbound queue results by message type.",
		}, []string{"type", "result"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ProviderMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_messages_total",
			Help:      "Realtime provider wire messages by direction and type.",
		}, []string{"provider", "direction", "type"}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool name and terminal outcome.",
		}, []string{"tool", "outcome"}),
		ConfirmationWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_wait_seconds",
			Help:      "Time a tool call waited for user confirmation.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		ToolLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_latency_ms",
			Help:      "External API execution latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"tool"}),
		BillingCharges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_charges_total",
			Help:      "Usage meter charge attempts by kind and result.",
		}, []string{"kind", "result"}),
		BilledMinutes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billed_minutes_total",
			Help:      "Minutes successfully charged to credit ledgers.",
		}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant playback interruptions caused by user speech.",
		}),
		ConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Latency from connect request to an active session in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 10000},
		}),
		stages: newStageWindow(256),
	}
}

// ObserveStage records a latency sample for the rolling stage window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveToolOutcome(tool, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	if latency > 0 {
		m.ToolLatency.WithLabelValues(tool).Observe(float64(latency.Milliseconds()))
		m.ObserveStage(StageToolExecution, latency)
	}
}

func (m *Metrics) ObserveCharge(kind, result string, minutes float64) {
	if m == nil {
		return
	}
	m.BillingCharges.WithLabelValues(kind, result).Inc()
	if result == "ok" && minutes > 0 {
		m.BilledMinutes.Add(minutes)
	}
}

func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}
	m.SessionStates.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveConnectLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageConnect, d)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveBargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
	m.ObserveIndicator("barge_in")
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObserveProviderMessage(provider, direction, msgType string) {
	if m == nil {
		return
	}
	m.ProviderMessages.WithLabelValues(provider, direction, msgType).Inc()
}

func (m *Metrics) ObserveConfirmationWait(d time.Duration) {
	if m == nil {
		return
	}
	m.ConfirmationWait.Observe(d.Seconds())
	m.ObserveStage(StageConfirmationWait, d)
}

func (m *Metrics) AddActiveSessions(delta float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(delta)
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveWSWriteError(stage string) {
	if m == nil {
		return
	}
	m.WSWriteErrors.WithLabelValues(stage).Inc()
}
