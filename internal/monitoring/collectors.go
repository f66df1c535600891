package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// componentUp exports the latest probe outcome per component:
	// 1 up, 0.5 degraded, 0 down.
	componentUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sataplan_health_component_up",
			Help: "Latest health probe outcome per component (1 up, 0.5 degraded, 0 down)",
		},
		[]string{"component"},
	)

	componentProbeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sataplan_health_probe_duration_seconds",
			Help: "Duration of the latest health probe per component",
		},
		[]string{"component"},
	)
)

// publishReport mirrors probe outcomes into the Prometheus gauges.
func publishReport(report HealthReport) {
	for _, check := range report.Checks {
		var value float64
		switch check.Status {
		case StatusUp:
			value = 1
		case StatusDegraded:
			value = 0.5
		}
		componentUp.WithLabelValues(check.Component).Set(value)
		componentProbeSeconds.WithLabelValues(check.Component).Set(check.Duration.Seconds())
	}
}
