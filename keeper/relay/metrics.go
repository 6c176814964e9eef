package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics carries the relay's operational counters. A nil receiver
// is tolerated everywhere so tests and stripped-down runs can skip metrics.
type PrometheusMetrics struct {
	Registry          *prometheus.Registry
	TransactionsTotal *prometheus.CounterVec
	CommandsDrained   *prometheus.CounterVec
	CommandsDropped   *prometheus.CounterVec
	BatchesSubmitted  prometheus.Counter
	QueueDepth        *prometheus.GaugeVec
	TickErrorsTotal   *prometheus.CounterVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	successLabels := []string{"success"}
	queueLabels := []string{"queue"}
	dropLabels := []string{"queue", "reason"}
	registry := prometheus.NewRegistry()
	registerer := promauto.With(registry)
	return &PrometheusMetrics{
		Registry: registry,
		TransactionsTotal: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_transactions_total",
			Help: "The total number of on-chain transactions submitted by the relay, by outcome",
		}, successLabels),
		CommandsDrained: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_commands_drained_total",
			Help: "The total number of commands popped from the queues",
		}, queueLabels),
		CommandsDropped: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_commands_dropped_total",
			Help: "The total number of commands discarded without submission",
		}, dropLabels),
		BatchesSubmitted: registerer.NewCounter(prometheus.CounterOpts{
			Name: "keeper_batches_submitted_total",
			Help: "The total number of token-movement batches submitted",
		}),
		QueueDepth: registerer.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_queue_depth",
			Help: "The number of commands resident in each queue at the last tick",
		}, queueLabels),
		TickErrorsTotal: registerer.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_tick_errors_total",
			Help: "The total number of abandoned ticks, by loop",
		}, queueLabels),
	}
}

func (m *PrometheusMetrics) AddTransactions(success bool, count int) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.TransactionsTotal.WithLabelValues(label).Add(float64(count))
}

func (m *PrometheusMetrics) IncDrained(queue string) {
	if m == nil {
		return
	}
	m.CommandsDrained.WithLabelValues(queue).Inc()
}

func (m *PrometheusMetrics) IncDropped(queue, reason string) {
	if m == nil {
		return
	}
	m.CommandsDropped.WithLabelValues(queue, reason).Inc()
}

func (m *PrometheusMetrics) IncBatches() {
	if m == nil {
		return
	}
	m.BatchesSubmitted.Inc()
}

func (m *PrometheusMetrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (m *PrometheusMetrics) IncTickError(queue string) {
	if m == nil {
		return
	}
	m.TickErrorsTotal.WithLabelValues(queue).Inc()
}
