package updater

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "updater"

type Metrics struct {
	// Number of commitments signed.
	Signed metrics.Counter
	// Number of commitments accepted by the home.
	Submitted metrics.Counter
	// Number of failed signing attempts.
	SignerErrors metrics.Counter
	// Last index committed by this updater.
	CommittedIndex metrics.Gauge
	// Messages in the outbox not yet covered by a commitment.
	Backlog metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
// Optionally, labels can be provided along with their values ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Signed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "signed_total",
			Help:      "Number of commitments signed.",
		}, labels).With(labelsAndValues...),
		Submitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submitted_total",
			Help:      "Number of commitments accepted by the home.",
		}, labels).With(labelsAndValues...),
		SignerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "signer_errors_total",
			Help:      "Number of failed signing attempts.",
		}, labels).With(labelsAndValues...),
		CommittedIndex: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "committed_index",
			Help:      "Last outbox index committed by this updater.",
		}, labels).With(labelsAndValues...),
		Backlog: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "backlog",
			Help:      "Outbox messages not yet covered by a commitment.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Signed:         discard.NewCounter(),
		Submitted:      discard.NewCounter(),
		SignerErrors:   discard.NewCounter(),
		CommittedIndex: discard.NewGauge(),
		Backlog:        discard.NewGauge(),
	}
}
