package models

import "github.com/miradorstack/mirador-anomaly/internal/fieldpath"

// EventKind discriminates the signals the duration/bucketing pipeline
// feeds into the engine.
type EventKind string

// Event kinds. Start and stop bracket a metric's contribution to its
// tracked duration; condition-false ends every live series of a metric.
const (
	EventStart          EventKind = "start"
	EventStop           EventKind = "stop"
	EventConditionFalse EventKind = "condition_false"
)

// MetricEvent is one timestamped, dimensioned observation handed to the
// engine by the ingestion pipeline.
type MetricEvent struct {
	MetricID    string
	Kind        EventKind
	TimestampNs int64
	Values      *fieldpath.FieldValueMap
}
