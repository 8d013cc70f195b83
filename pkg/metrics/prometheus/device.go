// Package prometheus implements the instrumentation interfaces with
// Prometheus collectors registered on the process registry.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thumbsup-team/securenas/pkg/device"
	"github.com/thumbsup-team/securenas/pkg/metrics"
)

// deviceMetrics is the Prometheus implementation of device.Metrics.
type deviceMetrics struct {
	state         *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	authOutcomes  *prometheus.CounterVec
	sessions      prometheus.Gauge
	grantFailures *prometheus.CounterVec
}

// NewDeviceMetrics creates a Prometheus-backed device.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called), in
// which case the device falls back to its no-op implementation.
func NewDeviceMetrics() device.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &deviceMetrics{
		state: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "securenas_device_state",
				Help: "Current lifecycle state, 1 for the active state and 0 otherwise",
			},
			[]string{"state"},
		),
		transitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "securenas_device_transitions_total",
				Help: "Total lifecycle transitions by from state, to state, and event",
			},
			[]string{"from", "to", "event"},
		),
		authOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "securenas_auth_attempts_total",
				Help: "Total client authentication attempts by outcome",
			},
			[]string{"outcome"},
		),
		sessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "securenas_sessions",
				Help: "Number of live client sessions",
			},
		),
		grantFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "securenas_grant_failures_total",
				Help: "Total access grant failures by stage",
			},
			[]string{"stage"},
		),
	}
}

func (m *deviceMetrics) SetState(state string) {
	for _, s := range []string{"DORMANT", "ADVERTISING", "ACTIVE", "SHUTDOWN"} {
		var v float64
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *deviceMetrics) ObserveTransition(from, to, event string) {
	m.transitions.WithLabelValues(from, to, event).Inc()
}

func (m *deviceMetrics) ObserveAuth(outcome string) {
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

func (m *deviceMetrics) SetSessions(count int) {
	m.sessions.Set(float64(count))
}

func (m *deviceMetrics) ObserveGrantFailure(stage string) {
	m.grantFailures.WithLabelValues(stage).Inc()
}
