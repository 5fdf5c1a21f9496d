package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	UsersCreated       prometheus.Counter
	AdmissionRejected  prometheus.Counter
	AdmissionAdmitted  prometheus.Counter
	CodesIssued        prometheus.Counter
	CodeVerifyFailures prometheus.Counter
	ResolveDurationMs  prometheus.Histogram
}

// New creates and registers all Prometheus metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "authgate_users_created_total",
			Help: "Total number of users created in the system",
		}),
		AdmissionRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "authgate_admission_rejected_total",
			Help: "Authorization requests rejected by the admission guard",
		}),
		AdmissionAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "authgate_admission_admitted_total",
			Help: "Authorization requests admitted by the admission guard",
		}),
		CodesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "authgate_codes_issued_total",
			Help: "One-time codes issued by the code provider",
		}),
		CodeVerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "authgate_code_verify_failures_total",
			Help: "One-time code verification attempts that failed",
		}),
		ResolveDurationMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_identity_resolve_duration_ms",
			Help:    "Latency of identity resolution in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
