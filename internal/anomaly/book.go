package anomaly

import (
	"log/slog"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/metrics"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// book is the alarm and refractory bookkeeping shared by the tracker
// implementations. It is not internally synchronised; the owning tracker
// inherits the Tracker interface's threading contract.
type book struct {
	alert       models.Alert
	queue       *alarm.Queue
	store       RefractoryStore
	logger      *slog.Logger
	subscribers []Subscriber

	alarms            map[models.DimensionKey]*alarm.Alarm
	refractoryEndsSec map[models.DimensionKey]int64
}

func newBook(alert models.Alert, queue *alarm.Queue, store RefractoryStore, logger *slog.Logger, subscribers []Subscriber) book {
	if logger == nil {
		logger = slog.Default()
	}
	return book{
		alert:             alert,
		queue:             queue,
		store:             store,
		logger:            logger,
		subscribers:       subscribers,
		alarms:            make(map[models.DimensionKey]*alarm.Alarm),
		refractoryEndsSec: make(map[models.DimensionKey]int64),
	}
}

// refractoryEnd returns the refractory window end for key in whole
// seconds, consulting the store once per key and caching the answer.
func (b *book) refractoryEnd(key models.DimensionKey) int64 {
	if end, ok := b.refractoryEndsSec[key]; ok {
		return end
	}
	var end int64
	if b.store != nil {
		if persisted, ok := b.store.LoadRefractoryEnd(b.alert.ID, key); ok {
			end = persisted
		}
	}
	b.refractoryEndsSec[key] = end
	return end
}

// inRefractoryPeriod reports whether timestampNs falls before the key's
// refractory window end.
func (b *book) inRefractoryPeriod(timestampNs int64, key models.DimensionKey) bool {
	end := b.refractoryEnd(key)
	return end > 0 && timestampNs < end*utils.NsPerSec
}

// declareAnomaly records a genuine threshold crossing: it opens the
// refractory window and fans the declaration out. Crossings inside an
// active window are dropped here, so callers never double-declare.
func (b *book) declareAnomaly(timestampNs int64, key models.DimensionKey) {
	if b.inRefractoryPeriod(timestampNs, key) {
		b.logger.Debug("anomaly suppressed by refractory period",
			slog.String("alert", b.alert.ID), slog.String("dimension_key", key.String()))
		return
	}
	if b.alert.RefractoryPeriodSec > 0 {
		endSec := timestampNs/utils.NsPerSec + b.alert.RefractoryPeriodSec + 1
		b.refractoryEndsSec[key] = endSec
		if b.store != nil {
			b.store.SaveRefractoryEnd(b.alert.ID, key, endSec)
		}
	}
	metrics.ObserveAnomaly(b.alert.ID)
	for _, sub := range b.subscribers {
		sub.OnAnomaly(b.alert, key, timestampNs)
	}
}
