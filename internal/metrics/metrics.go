package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	anomaliesDeclaredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "anomalies_declared_total",
			Help:      "Total number of anomalies declared, partitioned by alert.",
		},
		[]string{"alert"},
	)

	alarmRegistrationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "alarm_registrations_total",
			Help:      "Registration updates pushed to the platform alarm service.",
		},
	)

	alarmsFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_anomaly",
			Name:      "alarms_fired_total",
			Help:      "Alarms popped from the queue by platform firings.",
		},
	)

	pendingAlarms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_anomaly",
			Name:      "pending_alarms",
			Help:      "Alarms currently queued awaiting their deadline.",
		},
	)
)

// Register attaches mirador-anomaly collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		anomaliesDeclaredTotal,
		alarmRegistrationsTotal,
		alarmsFiredTotal,
		pendingAlarms,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnomaly counts a declared anomaly for the given alert.
func ObserveAnomaly(alertID string) {
	anomaliesDeclaredTotal.WithLabelValues(alertID).Inc()
}

// ObserveRegistration counts one registration update to the alarm service.
func ObserveRegistration() {
	alarmRegistrationsTotal.Inc()
}

// ObserveAlarmsFired counts alarms handed back by a platform firing.
func ObserveAlarmsFired(n int) {
	alarmsFiredTotal.Add(float64(n))
}

// SetPendingAlarms tracks the queue depth.
func SetPendingAlarms(n int) {
	pendingAlarms.Set(float64(n))
}
