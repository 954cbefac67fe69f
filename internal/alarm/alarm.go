// Package alarm implements the deadline scheduler shared by every anomaly
// tracker: a thread-safe priority queue of pending alarms that coalesces
// registrations with the platform alarm service, so only the soonest
// deadline ever needs to exist outside the process.
package alarm

// Alarm is one scheduled deadline in whole seconds since the epoch.
// Identity is pointer identity: two alarms with equal timestamps are
// distinct queue entries, and removal only ever matches the exact
// instance that was added.
type Alarm struct {
	TimestampSec uint32
}

// Service is the capability the queue uses to keep the platform alarm
// daemon pointed at the soonest pending deadline. At most one timestamp
// is registered at a time; the daemon promises to report back at or
// after it. Calls are fire-and-forget.
type Service interface {
	RegisterAlarmAt(timestampSec uint32)
	CancelAlarm()
}

// NoopService keeps alarms queued without any external registration.
// Deadlines then rely on reactive PopSoonerThan calls alone, which is a
// documented degraded mode rather than an error.
type NoopService struct{}

// RegisterAlarmAt discards the registration.
func (NoopService) RegisterAlarmAt(uint32) {}

// CancelAlarm is a no-op.
func (NoopService) CancelAlarm() {}
