package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters. A single instance is wired through the
// HTTP server and the rotation controller.
type Metrics struct {
	Registry *prometheus.Registry

	VerificationsTotal *prometheus.CounterVec
	RevocationsTotal   *prometheus.CounterVec
	RotationsTotal     *prometheus.CounterVec
	RotationFailures   prometheus.Counter
	RollbacksTotal     prometheus.Counter
	VerifyDuration     prometheus.Histogram
	LedgerSize         prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone",
			Name:      "token_verifications_total",
			Help:      "Token verification outcomes.",
		}, []string{"result", "reason"}),
		RevocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone",
			Name:      "token_revocations_total",
			Help:      "Token revocations by reason.",
		}, []string{"reason"}),
		RotationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keystone",
			Name:      "key_rotations_total",
			Help:      "Completed key rotations by mode.",
		}, []string{"mode"}),
		RotationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keystone",
			Name:      "key_rotation_failures_total",
			Help:      "Rotations that ended in the failed state.",
		}),
		RollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "keystone",
			Name:      "deployment_rollbacks_total",
			Help:      "Deployments rolled back after a tier failure.",
		}),
		VerifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keystone",
			Name:      "token_verify_duration_seconds",
			Help:      "Latency of the token verification path.",
			Buckets:   prometheus.DefBuckets,
		}),
		LedgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "keystone",
			Name:      "revocation_ledger_entries",
			Help:      "Live entries in the revocation ledger.",
		}),
	}
}
