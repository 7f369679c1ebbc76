package registry

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeCreated    = "created"
	outcomeReplayed   = "replayed"
	outcomeReused     = "reused"
	outcomeDuplicate  = "duplicate"
	outcomeInvalid    = "invalid"
	outcomeAllocation = "allocation_failed"
	outcomeError      = "error"
	outcomeVoided     = "voided"
	outcomeNoop       = "already_voided"
	outcomeNotFound   = "not_found"
)

// Metrics exposes registration engine counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registrations     *prometheus.CounterVec
	voids             *prometheus.CounterVec
	allocationLatency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "registration",
			Name:      "register_total",
			Help:      "Visit registration attempts by outcome",
		}, []string{"outcome", "visit_type"}),
		voids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "registration",
			Name:      "void_total",
			Help:      "Visit void attempts by outcome",
		}, []string{"outcome"}),
		allocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "registration",
			Name:      "allocation_seconds",
			Help:      "Latency of atomic counter increments",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"counter", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.registrations, m.voids, m.allocationLatency)
	return m
}

func (m *Metrics) ObserveRegistration(outcome, visitType string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome, visitType).Inc()
}

func (m *Metrics) ObserveVoid(outcome string) {
	if m == nil {
		return
	}
	m.voids.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAllocation(counter string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.allocationLatency.WithLabelValues(counter, status).Observe(seconds)
}
