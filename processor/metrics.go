package processor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "processor"

type Metrics struct {
	// Number of execution transactions sent.
	Submissions metrics.Counter
	// Number of messages that reached processed.
	Processed metrics.Counter
	// Number of reverted executions.
	Reverted metrics.Counter
	// Number of proofs that did not fold to the confirmed root.
	ProofMismatches metrics.Counter
	// Number of executions refused because the pair is halted.
	Refused metrics.Counter
	// Time from handing a proof to the processor until it is processed.
	ProcessSeconds metrics.Histogram
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
		Submissions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submissions_total",
			Help:      "Number of execution transactions sent.",
		}, labels).With(labelsAndValues...),
		Processed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "processed_total",
			Help:      "Number of messages that reached processed.",
		}, labels).With(labelsAndValues...),
		Reverted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reverted_total",
			Help:      "Number of reverted executions.",
		}, labels).With(labelsAndValues...),
		ProofMismatches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proof_mismatches_total",
			Help:      "Number of proofs that did not fold to the confirmed root.",
		}, labels).With(labelsAndValues...),
		Refused: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "refused_total",
			Help:      "Number of executions refused because the pair is halted.",
		}, labels).With(labelsAndValues...),
		ProcessSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "process_seconds",
			Help:      "Time spent in a single process call.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 4, 8),
		}, labels).With(labelsAndValues...),
	}
}

// ForReplica returns Metrics reporting under the given replica label.
func (m *Metrics) ForReplica(name string) *Metrics {
	return &Metrics{
		Submissions:     m.Submissions.With("replica", name),
		Processed:       m.Processed.With("replica", name),
		Reverted:        m.Reverted.With("replica", name),
		ProofMismatches: m.ProofMismatches.With("replica", name),
		Refused:         m.Refused.With("replica", name),
		ProcessSeconds:  m.ProcessSeconds.With("replica", name),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Submissions:     discard.NewCounter(),
		Processed:       discard.NewCounter(),
		Reverted:        discard.NewCounter(),
		ProofMismatches: discard.NewCounter(),
		Refused:         discard.NewCounter(),
		ProcessSeconds:  discard.NewHistogram(),
	}
}
