package alarm

import (
	"log/slog"
	"sync"
	"time"
)

// TimerService drives the queue with in-process timers. It keeps a single
// pending time.AfterFunc for the registered deadline, replacing it on
// every registration, and reports firings through the callback the engine
// supplies. It stands in for the platform alarm daemon when the engine
// runs self-contained.
type TimerService struct {
	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	onFire func(firedAtSec uint32)
	logger *slog.Logger
}

// NewTimerService creates a timer-backed Service reporting firings to
// onFire. The callback runs on a timer goroutine.
func NewTimerService(onFire func(firedAtSec uint32), logger *slog.Logger) *TimerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerService{onFire: onFire, logger: logger}
}

// RegisterAlarmAt schedules the callback for the given deadline,
// replacing any previously registered one. Deadlines already in the past
// fire immediately.
func (s *TimerService) RegisterAlarmAt(timestampSec uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := time.Until(time.Unix(int64(timestampSec), 0))
	if delay < 0 {
		delay = 0
	}
	s.logger.Debug("alarm timer armed",
		slog.Uint64("timestamp_sec", uint64(timestampSec)), slog.Duration("delay", delay))
	s.timer = time.AfterFunc(delay, func() {
		s.onFire(uint32(time.Now().Unix()))
	})
}

// CancelAlarm stops the pending timer, if any.
func (s *TimerService) CancelAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Close cancels the pending timer and rejects further registrations.
func (s *TimerService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
