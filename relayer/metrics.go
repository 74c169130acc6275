package relayer

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "relayer"

type Metrics struct {
	// Number of home commitments relayed to the replica.
	Relayed metrics.Counter
	// Number of commitments refused because of their signer.
	SignerMismatches metrics.Counter
	// Number of ticks refused because the pair is flagged.
	Refused metrics.Counter
	// Number of message proofs handed to the processor.
	HandedOff metrics.Counter
	// Last outbox index confirmed on the replica.
	ConfirmedIndex metrics.Gauge
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
// Optionally, labels can be provided along with their values ("foo", "fooValue").
// Every series also carries a replica label, set with ForReplica before use.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	labels = append(labels, "replica")
	return &Metrics{
		Relayed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "relayed_total",
			Help:      "Number of home commitments relayed to the replica.",
		}, labels).With(labelsAndValues...),
		SignerMismatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "signer_mismatches_total",
			Help:      "Number of commitments refused because of their signer.",
		}, labels).With(labelsAndValues...),
		Refused: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "refused_total",
			Help:      "Number of ticks refused on a flagged pair.",
		}, labels).With(labelsAndValues...),
		HandedOff: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "handed_off_total",
			Help:      "Number of message proofs handed to the processor.",
		}, labels).With(labelsAndValues...),
		ConfirmedIndex: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirmed_index",
			Help:      "Last outbox index confirmed on the replica.",
		}, labels).With(labelsAndValues...),
	}
}

// ForReplica returns Metrics reporting under the given replica label.
func (m *Metrics) ForReplica(name string) *Metrics {
	return &Metrics{
		Relayed:          m.Relayed.With("replica", name),
		SignerMismatches: m.SignerMismatches.With("replica", name),
		Refused:          m.Refused.With("replica", name),
		HandedOff:        m.HandedOff.With("replica", name),
		ConfirmedIndex:   m.ConfirmedIndex.With("replica", name),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Relayed:          discard.NewCounter(),
		SignerMismatches: discard.NewCounter(),
		Refused:          discard.NewCounter(),
		HandedOff:        discard.NewCounter(),
		ConfirmedIndex:   discard.NewGauge(),
	}
}
