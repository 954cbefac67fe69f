package alarm

import (
	"sync"
	"testing"
	"time"
)

type serviceStub struct {
	mu            sync.Mutex
	registered    []uint32
	cancellations int
}

func (s *serviceStub) RegisterAlarmAt(timestampSec uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, timestampSec)
}

func (s *serviceStub) CancelAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellations++
}

func (s *serviceStub) last() (uint32, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.registered) == 0 {
		return 0, 0
	}
	return s.registered[len(s.registered)-1], len(s.registered)
}

func TestPopSoonerThanScenario(t *testing.T) {
	q := NewQueue(5, nil)
	for _, ts := range []uint32{10, 20, 20, 30, 40, 50} {
		q.Add(&Alarm{TimestampSec: ts})
	}
	if q.Len() != 6 {
		t.Fatalf("expected 6 queued alarms, got %d", q.Len())
	}

	if fired := q.PopSoonerThan(5); len(fired) != 0 {
		t.Fatalf("expected nothing due at 5, got %d", len(fired))
	}
	if fired := q.PopSoonerThan(30); len(fired) != 4 {
		t.Fatalf("expected 4 alarms due at 30 (both 20s included), got %d", len(fired))
	}
	if fired := q.PopSoonerThan(60); len(fired) != 2 {
		t.Fatalf("expected the remaining 2 alarms, got %d", len(fired))
	}
	if fired := q.PopSoonerThan(80); len(fired) != 0 {
		t.Fatalf("expected empty queue, got %d", len(fired))
	}
	if q.RegisteredAlarmTimeSec() != 0 {
		t.Fatalf("registered deadline should clear with the queue")
	}
}

func TestPopReturnsNoAlarmTwice(t *testing.T) {
	q := NewQueue(0, nil)
	a := &Alarm{TimestampSec: 10}
	q.Add(a)

	first := q.PopSoonerThan(10)
	if _, ok := first[a]; !ok {
		t.Fatalf("expected alarm in first pop")
	}
	if second := q.PopSoonerThan(10); len(second) != 0 {
		t.Fatalf("alarm returned twice")
	}
}

func TestRemoveByIdentityLeavesEqualTimestamp(t *testing.T) {
	q := NewQueue(5, nil)
	a := &Alarm{TimestampSec: 20}
	b := &Alarm{TimestampSec: 20}
	q.Add(a)
	q.Add(b)

	q.Remove(a)
	fired := q.PopSoonerThan(20)
	if len(fired) != 1 {
		t.Fatalf("expected one alarm left, got %d", len(fired))
	}
	if _, ok := fired[b]; !ok {
		t.Fatalf("wrong instance removed")
	}
}

func TestRemoveAbsentAlarmIsNoop(t *testing.T) {
	q := NewQueue(5, nil)
	q.Remove(&Alarm{TimestampSec: 99})
	q.Remove(nil)
	if q.Len() != 0 {
		t.Fatalf("queue should stay empty")
	}
}

func TestRegistrationHysteresis(t *testing.T) {
	svc := &serviceStub{}
	q := NewQueue(5, nil)
	q.SetService(svc)

	q.Add(&Alarm{TimestampSec: 100})
	if last, n := svc.last(); last != 100 || n != 1 {
		t.Fatalf("expected immediate registration at 100, got %d (%d calls)", last, n)
	}

	// Within the band: no new registration.
	q.Add(&Alarm{TimestampSec: 97})
	if _, n := svc.last(); n != 1 {
		t.Fatalf("expected hysteresis to suppress update, got %d calls", n)
	}
	if q.RegisteredAlarmTimeSec() != 100 {
		t.Fatalf("registered deadline should stay at 100")
	}

	// Beyond the band: registration moves sooner.
	q.Add(&Alarm{TimestampSec: 90})
	if last, n := svc.last(); last != 90 || n != 2 {
		t.Fatalf("expected registration at 90, got %d (%d calls)", last, n)
	}
}

func TestRemoveMovesRegistrationOnlyPastBand(t *testing.T) {
	svc := &serviceStub{}
	q := NewQueue(5, nil)
	q.SetService(svc)

	a := &Alarm{TimestampSec: 100}
	b := &Alarm{TimestampSec: 103}
	c := &Alarm{TimestampSec: 120}
	q.Add(a)
	q.Add(b)
	q.Add(c)

	// New minimum 103 is within the band of the registered 100.
	q.Remove(a)
	if last, n := svc.last(); last != 100 || n != 1 {
		t.Fatalf("expected registration untouched, got %d (%d calls)", last, n)
	}

	// New minimum 120 drifts beyond the band; registration follows.
	q.Remove(b)
	if last, _ := svc.last(); last != 120 {
		t.Fatalf("expected registration to move to 120, got %d", last)
	}

	// Queue drained: registration cancelled.
	q.Remove(c)
	svc.mu.Lock()
	cancels := svc.cancellations
	svc.mu.Unlock()
	if cancels != 1 {
		t.Fatalf("expected one cancellation, got %d", cancels)
	}
	if q.RegisteredAlarmTimeSec() != 0 {
		t.Fatalf("registered deadline should clear")
	}
}

func TestSetServiceRegistersPendingMinimum(t *testing.T) {
	q := NewQueue(5, nil)
	q.Add(&Alarm{TimestampSec: 42})
	q.Add(&Alarm{TimestampSec: 77})

	svc := &serviceStub{}
	q.SetService(svc)
	if last, n := svc.last(); last != 42 || n != 1 {
		t.Fatalf("expected registration of pending minimum, got %d (%d calls)", last, n)
	}
}

func TestPopReregistersRemainingMinimum(t *testing.T) {
	svc := &serviceStub{}
	q := NewQueue(5, nil)
	q.SetService(svc)

	q.Add(&Alarm{TimestampSec: 10})
	q.Add(&Alarm{TimestampSec: 50})

	q.PopSoonerThan(12)
	if last, _ := svc.last(); last != 50 {
		t.Fatalf("expected re-registration at 50 after pop, got %d", last)
	}
	if q.RegisteredAlarmTimeSec() != 50 {
		t.Fatalf("cached registration should be 50")
	}
}

func TestInvalidAlarmIgnored(t *testing.T) {
	q := NewQueue(5, nil)
	q.Add(nil)
	q.Add(&Alarm{})
	if q.Len() != 0 {
		t.Fatalf("invalid alarms must not be queued")
	}
}

func TestTimerServiceFiresPastDeadlineImmediately(t *testing.T) {
	fired := make(chan uint32, 1)
	svc := NewTimerService(func(ts uint32) { fired <- ts }, nil)
	defer svc.Close()

	svc.RegisterAlarmAt(1)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer service never fired for past deadline")
	}
}

func TestTimerServiceCancelStopsPending(t *testing.T) {
	fired := make(chan uint32, 1)
	svc := NewTimerService(func(ts uint32) { fired <- ts }, nil)
	defer svc.Close()

	svc.RegisterAlarmAt(uint32(time.Now().Unix()) + 3600)
	svc.CancelAlarm()
	select {
	case <-fired:
		t.Fatalf("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
