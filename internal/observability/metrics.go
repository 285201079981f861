package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the chat client.
type Metrics struct {
	SessionEvents   *prometheus.CounterVec
	HistoryFetches  *prometheus.CounterVec
	Exchanges       *prometheus.CounterVec
	ExchangeLatency prometheus.Histogram
	StaleResponses  *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	TranscriptTurns prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Chat session lifecycle events by type.",
		}, []string{"event"}),
		HistoryFetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetches_total",
			Help:      "Chat history fetches by result.",
		}, []string{"result"}),
		Exchanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Message exchanges with the assistant by result.",
		}, []string{"result"}),
		ExchangeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_latency_ms",
			Help:      "Latency of a message exchange round trip in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		StaleResponses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Async results discarded because the page moved on.",
		}, []string{"kind"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TranscriptTurns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcript_turns",
			Help:      "Number of turns in the displayed transcript.",
		}),
	}
}

// The helpers below accept a nil receiver so components can run without
// metrics in tests and tools.

func (m *Metrics) ObserveExchangeLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) HistoryFetch(result string) {
	if m == nil {
		return
	}
	m.HistoryFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) Exchange(result string) {
	if m == nil {
		return
	}
	m.Exchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) StaleResponse(kind string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(kind).Inc()
}

func (m *Metrics) WSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) SetTranscriptTurns(n int) {
	if m == nil {
		return
	}
	m.TranscriptTurns.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
