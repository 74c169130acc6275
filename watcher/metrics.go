package watcher

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "watcher"

type Metrics struct {
	// Number of commitments audited, labelled by chain.
	Audited metrics.Counter
	// Number of fraud findings.
	FraudDetected metrics.Counter
	// Number of commitments signed by a key other than the home updater.
	SignerMismatches metrics.Counter
	// Number of double update proofs accepted by a chain.
	ProofsSubmitted metrics.Counter
	// Number of replicas unenrolled.
	Unenrolled metrics.Counter
	// Size of the locally derived outbox.
	OutboxLength metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
// Optionally, labels can be provided along with their values ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Audited: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "audited_total",
			Help:      "Number of commitments audited.",
		}, append(append([]string{}, labels...), "chain")).With(labelsAndValues...),
		FraudDetected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fraud_detected_total",
			Help:      "Number of fraud findings.",
		}, append(append([]string{}, labels...), "kind")).With(labelsAndValues...),
		SignerMismatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "signer_mismatches_total",
			Help:      "Number of commitments not signed by the home updater.",
		}, labels).With(labelsAndValues...),
		ProofsSubmitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_submitted_total",
			Help:      "Number of double update proofs accepted by a chain.",
		}, labels).With(labelsAndValues...),
		Unenrolled: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "unenrolled_total",
			Help:      "Number of replicas unenrolled by this watcher.",
		}, labels).With(labelsAndValues...),
		OutboxLength: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "outbox_length",
			Help:      "Size of the locally derived outbox.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Audited:          discard.NewCounter(),
		FraudDetected:    discard.NewCounter(),
		SignerMismatches: discard.NewCounter(),
		ProofsSubmitted:  discard.NewCounter(),
		Unenrolled:       discard.NewCounter(),
		OutboxLength:     discard.NewGauge(),
	}
}
