// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "resqtail"

// Metrics groups the counters updated by the workflow and the notifier.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ReportsSubmitted prometheus.Counter
	ReportsCared     prometheus.Counter
	ReportsDeleted   prometheus.Counter
	Notifications    *prometheus.CounterVec
	Logins           *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ReportsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Reports persisted by the workflow",
		}),
		ReportsCared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_cared_total",
			Help:      "Reports moved from Pending to Cared",
		}),
		ReportsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_deleted_total",
			Help:      "Reports removed by their reporter",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and result",
		}, []string{"channel", "result"}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ReportSubmitted() {
	if m != nil {
		m.ReportsSubmitted.Inc()
	}
}

func (m *Metrics) ReportCared() {
	if m != nil {
		m.ReportsCared.Inc()
	}
}

func (m *Metrics) ReportDeleted() {
	if m != nil {
		m.ReportsDeleted.Inc()
	}
}

// Notification counts one delivery attempt; result is "sent", "failed" or "skipped".
func (m *Metrics) Notification(channel, result string) {
	if m != nil {
		m.Notifications.WithLabelValues(channel, result).Inc()
	}
}

func (m *Metrics) Login(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.Logins.WithLabelValues(result).Inc()
}
