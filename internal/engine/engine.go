// Package engine routes metric events through the configured alerts:
// it extracts dimension keys, accrues per-key durations, and drives the
// trackers that schedule and consume predictive alarms.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/anomaly"
	"github.com/miradorstack/mirador-anomaly/internal/dimension"
	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// durationState accrues tracked time for one dimension key. Accrual
// carries across start/stop pairs until the alert's condition goes
// false for the metric.
type durationState struct {
	accruedNs int64
	startNs   int64
	active    bool
}

// alertRuntime binds one alert definition to its tracker, compiled
// matchers, and per-key accrual state.
type alertRuntime struct {
	alert     models.Alert
	tracker   anomaly.Tracker
	counter   *anomaly.CountTracker
	what      *fieldpath.Matcher
	condition *fieldpath.Matcher
	durations map[models.DimensionKey]*durationState
}

// Engine is the event-facing front of the anomaly pipeline. HandleEvent
// runs on the ingestion goroutine; OnAlarmFired may arrive from an alarm
// backend callback, so all per-alert state is guarded by one mutex.
type Engine struct {
	mu      sync.Mutex
	logger  *slog.Logger
	queue   *alarm.Queue
	alerts  []*alertRuntime
	latency *utils.LatencyTracker
}

// New compiles the alert definitions into runtimes sharing one alarm
// queue and one refractory store. Subscribers receive every declared
// anomaly from every alert.
func New(alerts []models.Alert, queue *alarm.Queue, store anomaly.RefractoryStore, logger *slog.Logger, subscribers ...anomaly.Subscriber) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:  logger,
		queue:   queue,
		latency: utils.NewLatencyTracker(1024),
	}
	for _, alert := range alerts {
		if err := alert.Validate(); err != nil {
			return nil, utils.NewAppError("engine.new", fmt.Sprintf("alert %q", alert.ID), err)
		}
		what, err := alert.Dimensions.Matcher()
		if err != nil {
			return nil, utils.NewAppError("engine.new", fmt.Sprintf("alert %q dimensions", alert.ID), err)
		}
		condition, err := alert.ConditionDimensions.Matcher()
		if err != nil {
			return nil, utils.NewAppError("engine.new", fmt.Sprintf("alert %q condition dimensions", alert.ID), err)
		}
		rt := &alertRuntime{
			alert:     alert,
			what:      what,
			condition: condition,
			durations: make(map[models.DimensionKey]*durationState),
		}
		if alert.Kind == models.AlertKindCount {
			counter := anomaly.NewCountTracker(alert, store, logger, subscribers...)
			rt.counter = counter
			rt.tracker = counter
		} else {
			rt.tracker = anomaly.NewDurationTracker(alert, queue, store, logger, subscribers...)
		}
		e.alerts = append(e.alerts, rt)
	}
	return e, nil
}

// HandleEvent routes one event through every alert listening on its
// metric.
func (e *Engine) HandleEvent(ev models.MetricEvent) {
	started := time.Now()

	e.mu.Lock()
	for _, rt := range e.alerts {
		if rt.alert.MetricID != ev.MetricID {
			continue
		}
		if ev.Kind == models.EventConditionFalse {
			e.conditionFalse(rt, ev.TimestampNs)
			continue
		}
		for _, key := range rt.extractKeys(ev) {
			if rt.counter != nil {
				if ev.Kind == models.EventStart {
					rt.counter.Observe(key, ev.TimestampNs, 1)
				}
				continue
			}
			e.handleDuration(rt, key, ev)
		}
	}
	e.mu.Unlock()

	e.latency.Observe(time.Since(started))
}

// handleDuration advances one key's accrual state machine. A start
// schedules the projected threshold crossing; a stop banks the accrued
// time and withdraws the alarm (declaring on the spot when the stop
// already sits past the deadline).
func (e *Engine) handleDuration(rt *alertRuntime, key models.DimensionKey, ev models.MetricEvent) {
	st := rt.durations[key]
	if st == nil {
		st = &durationState{}
		rt.durations[key] = st
	}
	switch ev.Kind {
	case models.EventStart:
		if st.active {
			return
		}
		st.active = true
		st.startNs = ev.TimestampNs
		remaining := rt.alert.ThresholdNs - st.accruedNs
		if remaining < 0 {
			remaining = 0
		}
		rt.tracker.StartAlarm(key, ev.TimestampNs+remaining)
	case models.EventStop:
		if !st.active {
			return
		}
		st.active = false
		st.accruedNs += ev.TimestampNs - st.startNs
		rt.tracker.StopAlarm(key, ev.TimestampNs)
	}
}

// conditionFalse ends every live series of the alert and forgets its
// accrual, so the next start begins from zero.
func (e *Engine) conditionFalse(rt *alertRuntime, timestampNs int64) {
	if rt.counter != nil {
		return
	}
	for key, st := range rt.durations {
		if st.active {
			rt.tracker.StopAlarm(key, timestampNs)
		}
		delete(rt.durations, key)
	}
}

// extractKeys derives the series keys the event contributes to. Without
// a dimension matcher the whole metric is one anonymous series; with one,
// an event that matches nothing contributes to nothing.
func (rt *alertRuntime) extractKeys(ev models.MetricEvent) []models.DimensionKey {
	if rt.what == nil {
		return []models.DimensionKey{{}}
	}
	whats := dimension.Find(ev.Values, rt.what)
	if len(whats) == 0 {
		return nil
	}
	var condition *dimension.DimensionsValue
	if rt.condition != nil {
		if conds := dimension.Find(ev.Values, rt.condition); len(conds) > 0 {
			condition = conds[0]
		}
	}
	keys := make([]models.DimensionKey, 0, len(whats))
	for _, what := range whats {
		keys = append(keys, models.NewDimensionKey(what, condition))
	}
	return keys
}

// OnAlarmFired drains every alarm due at or before firedAtSec and offers
// the set to each tracker until it is consumed. Safe to call from an
// alarm backend's callback goroutine.
func (e *Engine) OnAlarmFired(firedAtSec uint32) {
	if e.queue == nil {
		return
	}
	fired := e.queue.PopSoonerThan(firedAtSec)
	if len(fired) == 0 {
		return
	}
	timestampNs := int64(firedAtSec) * utils.NsPerSec

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rt := range e.alerts {
		rt.tracker.InformAlarmsFired(timestampNs, fired)
		if len(fired) == 0 {
			return
		}
	}
	e.logger.Warn("fired alarms claimed by no tracker", slog.Int("count", len(fired)))
}

// RunCatchUp polls for overdue alarms until ctx is cancelled. It backs
// up alarm backends whose callbacks can be delayed or dropped, and
// surfaces event-handling latency while it is at it.
func (e *Engine) RunCatchUp(ctx context.Context, interval time.Duration) {
	if e.queue == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := uint32(time.Now().Unix())
			if registered := e.queue.RegisteredAlarmTimeSec(); registered != 0 && registered <= now {
				e.logger.Debug("catching up overdue alarms", slog.Int("registered_sec", int(registered)))
				e.OnAlarmFired(now)
			}
			if e.latency.Count() > 0 {
				e.logger.Debug("event handling latency",
					slog.Int("samples", e.latency.Count()),
					slog.Duration("p95", e.latency.Percentile(95)))
			}
		}
	}
}

// CancelAllAlarms withdraws every pending alarm across all alerts and
// resets duration accrual.
func (e *Engine) CancelAllAlarms() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rt := range e.alerts {
		rt.tracker.CancelAllAlarms()
		for key := range rt.durations {
			delete(rt.durations, key)
		}
	}
}
