package engine

import (
	"testing"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

type declarationRecorder struct {
	declarations []string
}

func (r *declarationRecorder) OnAnomaly(alert models.Alert, key models.DimensionKey, timestampNs int64) {
	r.declarations = append(r.declarations, alert.ID+"/"+key.String())
}

// syncEvent builds an event for an atom (tag 100) with a repeated uid
// chain in field 1 and a scalar sync name in field 2.
func syncEvent(kind models.EventKind, sec int64, uids []int32, name string) models.MetricEvent {
	m := fieldpath.NewFieldValueMap()
	for i, uid := range uids {
		f := fieldpath.NewField(100)
		f.Append(1).Index = int32(i)
		f.Append(1)
		m.Insert(f, fieldpath.IntValue(uid))
	}
	f := fieldpath.NewField(100)
	f.Append(2)
	m.Insert(f, fieldpath.StringValue(name))
	return models.MetricEvent{
		MetricID:    "sync_duration",
		Kind:        kind,
		TimestampNs: sec * utils.NsPerSec,
		Values:      m,
	}
}

func nameDimensions() *models.MatcherSpec {
	return &models.MatcherSpec{Field: 100, Children: []*models.MatcherSpec{{Field: 2}}}
}

func slowSyncAlert() models.Alert {
	return models.Alert{
		ID:          "slow-sync",
		MetricID:    "sync_duration",
		Kind:        models.AlertKindDuration,
		ThresholdNs: 30 * utils.NsPerSec,
		Dimensions:  nameDimensions(),
	}
}

func newTestEngine(t *testing.T, rec *declarationRecorder, alerts ...models.Alert) (*Engine, *alarm.Queue) {
	t.Helper()
	q := alarm.NewQueue(0, nil)
	e, err := New(alerts, q, nil, nil, rec)
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	return e, q
}

func TestDurationAlertDeclaresWhenAlarmFires(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	if q.Len() != 1 {
		t.Fatalf("expected one pending alarm, got %d", q.Len())
	}

	e.OnAlarmFired(29)
	if len(rec.declarations) != 0 {
		t.Fatalf("alarm must not fire before the projected crossing: %v", rec.declarations)
	}

	e.OnAlarmFired(30)
	if len(rec.declarations) != 1 || rec.declarations[0] != "slow-sync/100:{2:alpha}" {
		t.Fatalf("unexpected declarations: %v", rec.declarations)
	}
}

func TestStopBeforeThresholdBanksAccrual(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	e.HandleEvent(syncEvent(models.EventStop, 10, nil, "alpha"))
	if q.Len() != 0 {
		t.Fatalf("stop must withdraw the alarm, %d pending", q.Len())
	}
	e.OnAlarmFired(100)
	if len(rec.declarations) != 0 {
		t.Fatalf("withdrawn alarm must not declare: %v", rec.declarations)
	}

	// 10s already accrued: a restart at t=20 crosses at t=40.
	e.HandleEvent(syncEvent(models.EventStart, 20, nil, "alpha"))
	if got := q.RegisteredAlarmTimeSec(); got != 40 {
		t.Fatalf("expected projected crossing at 40, registered %d", got)
	}
	e.OnAlarmFired(40)
	if len(rec.declarations) != 1 {
		t.Fatalf("expected the carried accrual to declare: %v", rec.declarations)
	}
}

func TestConditionFalseResetsAccrual(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	e.HandleEvent(syncEvent(models.EventStop, 10, nil, "alpha"))
	e.HandleEvent(syncEvent(models.EventConditionFalse, 15, nil, "alpha"))

	// With the accrual dropped the next start projects a full threshold.
	e.HandleEvent(syncEvent(models.EventStart, 20, nil, "alpha"))
	if got := q.RegisteredAlarmTimeSec(); got != 50 {
		t.Fatalf("expected a fresh 30s projection to 50, registered %d", got)
	}
}

func TestConditionFalseStopsLiveSeries(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "beta"))
	if q.Len() != 2 {
		t.Fatalf("expected two live series, got %d", q.Len())
	}

	e.HandleEvent(syncEvent(models.EventConditionFalse, 5, nil, "any"))
	if q.Len() != 0 {
		t.Fatalf("condition false must withdraw every alarm, %d left", q.Len())
	}
	if len(rec.declarations) != 0 {
		t.Fatalf("early condition false must not declare: %v", rec.declarations)
	}
}

func TestLateStopDeclaresWithoutAlarm(t *testing.T) {
	rec := &declarationRecorder{}
	e, _ := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	// The alarm callback never arrived; the stop itself is past the
	// crossing and must declare.
	e.HandleEvent(syncEvent(models.EventStop, 35, nil, "alpha"))
	if len(rec.declarations) != 1 {
		t.Fatalf("late stop should declare: %v", rec.declarations)
	}
}

func TestAnyPositionFansOutSeries(t *testing.T) {
	alert := slowSyncAlert()
	alert.Dimensions = &models.MatcherSpec{Field: 100, Children: []*models.MatcherSpec{
		{Field: 1, Position: "any", Children: []*models.MatcherSpec{{Field: 1}}},
	}}
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, alert)

	e.HandleEvent(syncEvent(models.EventStart, 0, []int32{111, 222, 333}, "alpha"))
	if q.Len() != 3 {
		t.Fatalf("expected one alarm per observed index, got %d", q.Len())
	}

	e.OnAlarmFired(30)
	if len(rec.declarations) != 3 {
		t.Fatalf("expected each fanned-out series to declare: %v", rec.declarations)
	}
}

func TestCountAlertObservesOccurrences(t *testing.T) {
	alert := models.Alert{
		ID:             "chatty-sync",
		MetricID:       "sync_duration",
		Kind:           models.AlertKindCount,
		CountThreshold: 2,
		NumBuckets:     1,
		BucketSizeSec:  60,
		Dimensions:     nameDimensions(),
	}
	rec := &declarationRecorder{}
	e, _ := newTestEngine(t, rec, alert)

	for i := int64(0); i < 3; i++ {
		e.HandleEvent(syncEvent(models.EventStart, i, nil, "alpha"))
	}
	if len(rec.declarations) != 1 || rec.declarations[0] != "chatty-sync/100:{2:alpha}" {
		t.Fatalf("expected the third occurrence to declare: %v", rec.declarations)
	}
}

func TestUnknownMetricIgnored(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	ev := syncEvent(models.EventStart, 0, nil, "alpha")
	ev.MetricID = "battery_level"
	e.HandleEvent(ev)
	if q.Len() != 0 {
		t.Fatalf("unrelated metric must not schedule alarms, got %d", q.Len())
	}
}

func TestInvalidAlertRejectedAtConstruction(t *testing.T) {
	bad := slowSyncAlert()
	bad.ThresholdNs = 0
	if _, err := New([]models.Alert{bad}, alarm.NewQueue(0, nil), nil, nil); err == nil {
		t.Fatalf("expected construction to reject an invalid alert")
	}
}

func TestCancelAllAlarmsClearsQueue(t *testing.T) {
	rec := &declarationRecorder{}
	e, q := newTestEngine(t, rec, slowSyncAlert())

	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "alpha"))
	e.HandleEvent(syncEvent(models.EventStart, 0, nil, "beta"))
	e.CancelAllAlarms()
	if q.Len() != 0 {
		t.Fatalf("cancel must empty the queue, %d left", q.Len())
	}
	e.OnAlarmFired(100)
	if len(rec.declarations) != 0 {
		t.Fatalf("cancelled alarms must not declare: %v", rec.declarations)
	}
}
