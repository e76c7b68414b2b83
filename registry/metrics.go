package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes used as the "result" label.
const (
	resultOK                = "ok"
	resultAlreadyRegistered = "already_registered"
	resultNotFound          = "not_found"
	resultInvalid           = "invalid"
	resultError             = "error"
)

// Metrics counts registry operations by outcome.
type Metrics struct {
	registrations *prometheus.CounterVec
	verifications *prometheus.CounterVec
	notifyErrors  prometheus.Counter
}

// NewMetrics creates the registry counters and registers them with reg.
// A nil reg leaves the counters unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "landledger",
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Register operations by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "landledger",
			Subsystem: "registry",
			Name:      "verifications_total",
			Help:      "Verify operations by result.",
		}, []string{"result"}),
		notifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "landledger",
			Subsystem: "registry",
			Name:      "notify_errors_total",
			Help:      "Notifications the event sink failed to accept.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.verifications, m.notifyErrors)
	}
	return m
}

func resultLabel(err error) string {
	switch {
	case err == nil, IsNotifyError(err):
		return resultOK
	case IsAlreadyRegistered(err):
		return resultAlreadyRegistered
	case IsNotFound(err):
		return resultNotFound
	case isValidationError(err):
		return resultInvalid
	default:
		return resultError
	}
}

func (m *Metrics) observeRegister(err error) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeVerify(err error) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeNotifyError() {
	if m == nil {
		return
	}
	m.notifyErrors.Inc()
}
