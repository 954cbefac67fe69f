// Package anomaly holds the per-alert state machines that turn metric
// events into scheduled deadline checks and declared anomalies. Trackers
// share one alarm.Queue; each tracker owns at most one pending alarm per
// dimension key and a refractory window that suppresses repeat
// declarations for that key.
package anomaly

import (
	"log/slog"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// Tracker is the alarm-facing surface of an alert's state machine.
//
// Callers serialise StartAlarm/StopAlarm/CancelAllAlarms on the event
// processing goroutine. InformAlarmsFired may arrive from the alarm
// callback context; synchronising it against the rest is the caller's
// responsibility.
type Tracker interface {
	// StartAlarm schedules a deadline check for the projected
	// threshold-crossing instant. Suppressed inside the key's
	// refractory window; an existing alarm for the key is replaced.
	StartAlarm(key models.DimensionKey, projectedNs int64)

	// StopAlarm withdraws the pending alarm for the key. A timestamp
	// at or past the pending deadline means the platform callback lost
	// the race, and the anomaly is declared immediately.
	StopAlarm(key models.DimensionKey, timestampNs int64)

	// CancelAllAlarms withdraws every pending alarm for this tracker.
	CancelAllAlarms()

	// InformAlarmsFired claims this tracker's alarms out of the shared
	// fired set, declaring an anomaly per claimed key. Claimed entries
	// are removed from the set so no other tracker double-processes
	// them.
	InformAlarmsFired(timestampNs int64, fired map[*alarm.Alarm]struct{})
}

// Subscriber receives declared anomalies.
type Subscriber interface {
	OnAnomaly(alert models.Alert, key models.DimensionKey, timestampNs int64)
}

// RefractoryStore persists refractory window ends so suppression
// survives restarts. Implementations must treat lookups and saves as
// best-effort; a failed store degrades to in-memory state.
type RefractoryStore interface {
	SaveRefractoryEnd(alertID string, key models.DimensionKey, endSec int64)
	LoadRefractoryEnd(alertID string, key models.DimensionKey) (int64, bool)
}

// LogSubscriber reports anomalies through structured logging.
type LogSubscriber struct {
	Logger *slog.Logger
}

// OnAnomaly logs the declaration.
func (s LogSubscriber) OnAnomaly(alert models.Alert, key models.DimensionKey, timestampNs int64) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("anomaly declared",
		slog.String("alert", alert.ID),
		slog.String("metric", alert.MetricID),
		slog.String("dimension_key", key.String()),
		slog.Int64("timestamp_ns", timestampNs),
	)
}
