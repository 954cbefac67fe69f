package alarm

import (
	"container/heap"
	"log/slog"
	"sync"

	"github.com/miradorstack/mirador-anomaly/internal/metrics"
)

// Queue is the shared alarm scheduler. It holds every pending alarm in an
// indexed min-heap and caches the deadline currently registered with the
// platform alarm service (zero when none). Registrations are only updated
// when the soonest pending deadline drifts more than minUpdateTimeSec
// away from the registered one, which bounds cross-process churn no
// matter how often individual alarms come and go.
//
// All methods are safe for concurrent use. Service calls are issued
// outside the lock from a snapshot of the desired deadline, so a slow
// daemon can never stall Add or Remove.
type Queue struct {
	mu               sync.Mutex
	minUpdateTimeSec uint32
	pending          alarmHeap
	registeredSec    uint32
	service          Service
	logger           *slog.Logger
}

// NewQueue creates a queue with the given hysteresis band.
func NewQueue(minUpdateTimeSec uint32, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		minUpdateTimeSec: minUpdateTimeSec,
		pending:          alarmHeap{pos: make(map[*Alarm]int)},
		logger:           logger,
	}
}

// Add queues an alarm. The registration moves only when the new deadline
// is sooner than the registered one by more than the hysteresis band.
func (q *Queue) Add(a *Alarm) {
	if a == nil || a.TimestampSec == 0 {
		q.logger.Warn("ignoring invalid alarm", slog.Any("alarm", a))
		return
	}

	q.mu.Lock()
	if _, queued := q.pending.pos[a]; queued {
		q.mu.Unlock()
		return
	}
	heap.Push(&q.pending, a)
	metrics.SetPendingAlarms(q.pending.Len())

	var registerSec uint32
	if q.registeredSec == 0 || a.TimestampSec+q.minUpdateTimeSec < q.registeredSec {
		q.registeredSec = a.TimestampSec
		registerSec = a.TimestampSec
	}
	svc := q.service
	q.mu.Unlock()

	if registerSec != 0 && svc != nil {
		metrics.ObserveRegistration()
		svc.RegisterAlarmAt(registerSec)
	}
}

// Remove drops an alarm by identity. Removing an alarm that was never
// added, or was already popped, is a safe no-op. When the minimum moves
// later as a result, the registration follows only once it drifts beyond
// the hysteresis band.
func (q *Queue) Remove(a *Alarm) {
	if a == nil {
		return
	}

	q.mu.Lock()
	if !q.pending.remove(a) {
		q.mu.Unlock()
		return
	}
	metrics.SetPendingAlarms(q.pending.Len())

	var (
		registerSec uint32
		cancel      bool
	)
	if q.pending.Len() == 0 {
		cancel = q.registeredSec != 0
		q.registeredSec = 0
	} else if soonest := q.pending.min().TimestampSec; soonest > q.registeredSec+q.minUpdateTimeSec {
		q.registeredSec = soonest
		registerSec = soonest
	}
	svc := q.service
	q.mu.Unlock()

	if svc == nil {
		return
	}
	if cancel {
		svc.CancelAlarm()
	} else if registerSec != 0 {
		metrics.ObserveRegistration()
		svc.RegisterAlarmAt(registerSec)
	}
}

// PopSoonerThan atomically removes and returns every alarm with a
// deadline at or before timestampSec. Calling it early returns an empty
// set; calling it late catches up on everything overdue. The returned
// set is owned by the caller and is consumed entry by entry as trackers
// claim their alarms.
func (q *Queue) PopSoonerThan(timestampSec uint32) map[*Alarm]struct{} {
	fired := make(map[*Alarm]struct{})

	q.mu.Lock()
	for q.pending.Len() > 0 && q.pending.min().TimestampSec <= timestampSec {
		fired[heap.Pop(&q.pending).(*Alarm)] = struct{}{}
	}
	metrics.SetPendingAlarms(q.pending.Len())

	var registerSec uint32
	if q.pending.Len() == 0 {
		q.registeredSec = 0
	} else if q.registeredSec <= timestampSec {
		// The registration that produced this callback is spent.
		q.registeredSec = q.pending.min().TimestampSec
		registerSec = q.registeredSec
	}
	svc := q.service
	q.mu.Unlock()

	if registerSec != 0 && svc != nil {
		metrics.ObserveRegistration()
		svc.RegisterAlarmAt(registerSec)
	}
	if len(fired) > 0 {
		metrics.ObserveAlarmsFired(len(fired))
	}
	return fired
}

// SetService swaps the external registration target. Setting a service
// while alarms are pending registers the current minimum immediately;
// setting nil leaves alarms queued with no external deadline.
func (q *Queue) SetService(svc Service) {
	q.mu.Lock()
	q.service = svc
	var registerSec uint32
	if svc != nil && q.pending.Len() > 0 {
		q.registeredSec = q.pending.min().TimestampSec
		registerSec = q.registeredSec
	}
	q.mu.Unlock()

	if registerSec != 0 {
		metrics.ObserveRegistration()
		svc.RegisterAlarmAt(registerSec)
	}
}

// RegisteredAlarmTimeSec returns the deadline last pushed to the platform
// alarm service, zero when none is registered.
func (q *Queue) RegisteredAlarmTimeSec() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registeredSec
}

// Len returns the number of pending alarms.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// alarmHeap is a min-heap over deadlines with an identity index so
// Remove can locate an instance without scanning.
type alarmHeap struct {
	items []*Alarm
	pos   map[*Alarm]int
}

func (h *alarmHeap) Len() int { return len(h.items) }

func (h *alarmHeap) Less(i, j int) bool {
	return h.items[i].TimestampSec < h.items[j].TimestampSec
}

func (h *alarmHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i]] = i
	h.pos[h.items[j]] = j
}

func (h *alarmHeap) Push(x any) {
	a := x.(*Alarm)
	h.pos[a] = len(h.items)
	h.items = append(h.items, a)
}

func (h *alarmHeap) Pop() any {
	last := len(h.items) - 1
	a := h.items[last]
	h.items[last] = nil
	h.items = h.items[:last]
	delete(h.pos, a)
	return a
}

func (h *alarmHeap) min() *Alarm { return h.items[0] }

func (h *alarmHeap) remove(a *Alarm) bool {
	i, ok := h.pos[a]
	if !ok {
		return false
	}
	heap.Remove(h, i)
	return true
}
