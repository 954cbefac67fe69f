package models

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// AlertKind selects the tracker implementation backing an alert.
type AlertKind string

// Supported alert kinds.
const (
	AlertKindDuration AlertKind = "duration"
	AlertKindCount    AlertKind = "count"
)

// Alert is one anomaly alert definition from the rule pack.
type Alert struct {
	ID       string    `yaml:"id"`
	MetricID string    `yaml:"metricId"`
	Kind     AlertKind `yaml:"kind"`

	// ThresholdNs is the tracked duration that constitutes an anomaly
	// for duration alerts.
	ThresholdNs int64 `yaml:"thresholdNs"`

	// CountThreshold, NumBuckets and BucketSizeSec shape the rolling
	// window for count alerts.
	CountThreshold int64 `yaml:"countThreshold"`
	NumBuckets     int   `yaml:"numBuckets"`
	BucketSizeSec  int64 `yaml:"bucketSizeSec"`

	RefractoryPeriodSec int64 `yaml:"refractoryPeriodSec"`

	// Dimensions selects which atom fields key independently tracked
	// series. Nil means the whole metric is one series.
	Dimensions *MatcherSpec `yaml:"dimensions"`

	// ConditionDimensions optionally slices the alert's predicate; the
	// extracted value becomes the condition half of the series key.
	ConditionDimensions *MatcherSpec `yaml:"conditionDimensions"`
}

// MatcherSpec is the YAML shape of a dimension field matcher.
type MatcherSpec struct {
	Field    int32          `yaml:"field"`
	Position string         `yaml:"position"`
	Children []*MatcherSpec `yaml:"children"`
}

// Matcher converts the spec into a fieldpath matcher, rejecting unknown
// position selectors and unset field numbers.
func (s *MatcherSpec) Matcher() (*fieldpath.Matcher, error) {
	if s == nil {
		return nil, nil
	}
	if s.Field == 0 {
		return nil, errors.New("matcher field number is required")
	}
	m := &fieldpath.Matcher{Tag: s.Field}
	switch s.Position {
	case "":
		m.Pos = fieldpath.PositionNone
	case "first":
		m.Pos = fieldpath.PositionFirst
	case "last":
		m.Pos = fieldpath.PositionLast
	case "any":
		m.Pos = fieldpath.PositionAny
	default:
		return nil, fmt.Errorf("unknown position %q", s.Position)
	}
	for _, child := range s.Children {
		cm, err := child.Matcher()
		if err != nil {
			return nil, err
		}
		m.Children = append(m.Children, cm)
	}
	return m, nil
}

// Validate checks the alert for the invariants the trackers rely on.
func (a Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert id is required")
	}
	if a.MetricID == "" {
		return errors.New("alert metricId is required")
	}
	switch a.Kind {
	case AlertKindDuration:
		if a.ThresholdNs <= 0 {
			return errors.New("duration alert needs a positive thresholdNs")
		}
	case AlertKindCount:
		if a.CountThreshold <= 0 {
			return errors.New("count alert needs a positive countThreshold")
		}
		if a.NumBuckets < 1 {
			return errors.New("count alert needs at least one bucket")
		}
	default:
		return fmt.Errorf("unknown alert kind %q", a.Kind)
	}
	if a.RefractoryPeriodSec < 0 {
		return errors.New("refractoryPeriodSec cannot be negative")
	}
	if _, err := a.Dimensions.Matcher(); err != nil {
		return fmt.Errorf("dimensions: %w", err)
	}
	if _, err := a.ConditionDimensions.Matcher(); err != nil {
		return fmt.Errorf("conditionDimensions: %w", err)
	}
	return nil
}

// alertPackFile is the YAML root structure of a rule pack.
type alertPackFile struct {
	Alerts []Alert `yaml:"alerts"`
}

// LoadAlerts reads and validates the alert rule pack. A missing file is
// not an error: the engine simply starts with no alerts configured.
func LoadAlerts(path string) ([]Alert, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, utils.NewAppError("alerts.load", "read rule pack", err)
	}
	var pack alertPackFile
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, utils.NewAppError("alerts.load", "parse rule pack", err)
	}
	seen := make(map[string]struct{}, len(pack.Alerts))
	for _, alert := range pack.Alerts {
		if err := alert.Validate(); err != nil {
			return nil, utils.NewAppError("alerts.load", fmt.Sprintf("alert %q", alert.ID), err)
		}
		if _, dup := seen[alert.ID]; dup {
			return nil, utils.NewAppError("alerts.load", fmt.Sprintf("duplicate alert id %q", alert.ID), nil)
		}
		seen[alert.ID] = struct{}{}
	}
	return pack.Alerts, nil
}
