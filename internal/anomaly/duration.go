package anomaly

import (
	"log/slog"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// DurationTracker schedules a predictive alarm per dimension key at the
// instant the tracked duration is projected to cross the alert
// threshold. If the alarm fires, the crossing happened; if the duration
// stops accruing first, the alarm is withdrawn.
type DurationTracker struct {
	book
}

// NewDurationTracker builds a tracker for a duration alert. queue and
// store may be nil: without a queue the tracker still records pending
// deadlines but performs no external scheduling.
func NewDurationTracker(alert models.Alert, queue *alarm.Queue, store RefractoryStore, logger *slog.Logger, subscribers ...Subscriber) *DurationTracker {
	return &DurationTracker{book: newBook(alert, queue, store, logger, subscribers)}
}

// StartAlarm schedules the projected crossing for key. The deadline is
// rounded up to whole seconds so it never fires before the true instant.
func (t *DurationTracker) StartAlarm(key models.DimensionKey, projectedNs int64) {
	if t.inRefractoryPeriod(projectedNs, key) {
		return
	}
	if existing, ok := t.alarms[key]; ok && t.queue != nil {
		t.queue.Remove(existing)
	}
	a := &alarm.Alarm{TimestampSec: utils.SecondsCeil(projectedNs)}
	t.alarms[key] = a
	if t.queue != nil {
		t.queue.Add(a)
	}
}

// StopAlarm withdraws the pending alarm for key. When the stop timestamp
// is already at or past the deadline, the platform callback lost the
// race and the anomaly is declared right here.
func (t *DurationTracker) StopAlarm(key models.DimensionKey, timestampNs int64) {
	a, ok := t.alarms[key]
	if !ok {
		return
	}
	if utils.SecondsFloor(timestampNs) >= int64(a.TimestampSec) {
		t.declareAnomaly(timestampNs, key)
	}
	delete(t.alarms, key)
	if t.queue != nil {
		t.queue.Remove(a)
	}
}

// CancelAllAlarms withdraws every pending alarm for this tracker.
func (t *DurationTracker) CancelAllAlarms() {
	for key, a := range t.alarms {
		if t.queue != nil {
			t.queue.Remove(a)
		}
		delete(t.alarms, key)
	}
}

// InformAlarmsFired claims this tracker's fired alarms and declares an
// anomaly per claimed key. Runs a full scan of the pending map against
// the fired set; acceptable because real firings are rare compared to
// event traffic.
func (t *DurationTracker) InformAlarmsFired(timestampNs int64, fired map[*alarm.Alarm]struct{}) {
	if len(fired) == 0 || len(t.alarms) == 0 {
		return
	}
	for key, a := range t.alarms {
		if _, ok := fired[a]; !ok {
			continue
		}
		t.declareAnomaly(timestampNs, key)
		delete(fired, a)
		delete(t.alarms, key)
	}
}

// AlarmTimestampSec returns the pending deadline for key, zero when no
// alarm is pending.
func (t *DurationTracker) AlarmTimestampSec(key models.DimensionKey) uint32 {
	if a, ok := t.alarms[key]; ok {
		return a.TimestampSec
	}
	return 0
}
