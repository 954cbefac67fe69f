package utils

// NsPerSec is one second in nanoseconds.
const NsPerSec int64 = 1_000_000_000

// SecondsCeil converts a nanosecond timestamp to whole seconds, rounding
// up so a deadline derived from it never lands before the true instant.
func SecondsCeil(ns int64) uint32 {
	if ns <= 0 {
		return 0
	}
	return uint32((ns-1)/NsPerSec + 1)
}

// SecondsFloor converts a nanosecond timestamp to whole seconds,
// truncating.
func SecondsFloor(ns int64) int64 {
	if ns < 0 {
		return 0
	}
	return ns / NsPerSec
}
