package anomaly

import (
	"log/slog"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// CountTracker declares anomalies when the rolling sum of bucketed
// occurrence counts for a dimension key exceeds the alert threshold.
// Count alerts need no predictive alarms, so the alarm surface of the
// Tracker interface is a no-op here.
type CountTracker struct {
	book

	bucketSizeNs int64
	numPast      int

	currentBucketNum int64
	current          map[models.DimensionKey]int64

	// Ring of retired buckets still inside the window, with the bucket
	// number each slot holds (-1 = empty), plus the running per-key sum
	// over all of them.
	pastBuckets    []map[models.DimensionKey]int64
	pastBucketNums []int64
	sumPast        map[models.DimensionKey]int64
}

// NewCountTracker builds a tracker for a count alert.
func NewCountTracker(alert models.Alert, store RefractoryStore, logger *slog.Logger, subscribers ...Subscriber) *CountTracker {
	bucketSizeSec := alert.BucketSizeSec
	if bucketSizeSec <= 0 {
		bucketSizeSec = 60
	}
	numPast := alert.NumBuckets - 1
	if numPast < 0 {
		numPast = 0
	}
	t := &CountTracker{
		book:         newBook(alert, nil, store, logger, subscribers),
		bucketSizeNs: bucketSizeSec * utils.NsPerSec,
		numPast:      numPast,
		current:      make(map[models.DimensionKey]int64),
		sumPast:      make(map[models.DimensionKey]int64),
	}
	for i := 0; i < numPast; i++ {
		t.pastBuckets = append(t.pastBuckets, make(map[models.DimensionKey]int64))
		t.pastBucketNums = append(t.pastBucketNums, -1)
	}
	return t
}

// Observe adds value occurrences for key at timestampNs and declares an
// anomaly when the window sum crosses the threshold.
func (t *CountTracker) Observe(key models.DimensionKey, timestampNs int64, value int64) {
	t.advanceTo(timestampNs / t.bucketSizeNs)

	t.current[key] += value
	if t.sumPast[key]+t.current[key] > t.alert.CountThreshold {
		t.declareAnomaly(timestampNs, key)
	}
}

// advanceTo slides the window so target becomes the current bucket:
// the outgoing current bucket is retired into the ring and every slot
// older than the window is evicted from the running sum.
func (t *CountTracker) advanceTo(target int64) {
	if target <= t.currentBucketNum {
		return
	}
	if t.numPast > 0 {
		if len(t.current) > 0 {
			idx := int(t.currentBucketNum % int64(t.numPast))
			t.evictSlot(idx)
			t.pastBuckets[idx] = t.current
			t.pastBucketNums[idx] = t.currentBucketNum
			for key, v := range t.current {
				t.sumPast[key] += v
			}
		}
		oldest := target - int64(t.numPast)
		for i := range t.pastBuckets {
			if t.pastBucketNums[i] >= 0 && t.pastBucketNums[i] < oldest {
				t.evictSlot(i)
			}
		}
	}
	t.current = make(map[models.DimensionKey]int64)
	t.currentBucketNum = target
}

func (t *CountTracker) evictSlot(i int) {
	for key, v := range t.pastBuckets[i] {
		remaining := t.sumPast[key] - v
		if remaining <= 0 {
			delete(t.sumPast, key)
		} else {
			t.sumPast[key] = remaining
		}
	}
	if len(t.pastBuckets[i]) > 0 {
		t.pastBuckets[i] = make(map[models.DimensionKey]int64)
	}
	t.pastBucketNums[i] = -1
}

// StartAlarm is a no-op for count alerts.
func (t *CountTracker) StartAlarm(models.DimensionKey, int64) {}

// StopAlarm is a no-op for count alerts.
func (t *CountTracker) StopAlarm(models.DimensionKey, int64) {}

// CancelAllAlarms is a no-op for count alerts.
func (t *CountTracker) CancelAllAlarms() {}

// InformAlarmsFired is a no-op for count alerts.
func (t *CountTracker) InformAlarmsFired(int64, map[*alarm.Alarm]struct{}) {}
