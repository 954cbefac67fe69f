package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
)

func writePack(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	return path
}

func TestLoadAlertsPack(t *testing.T) {
	path := writePack(t, `
alerts:
  - id: slow-sync
    metricId: sync_duration
    kind: duration
    thresholdNs: 30000000000
    refractoryPeriodSec: 60
    dimensions:
      field: 100
      children:
        - field: 1
          position: first
          children:
            - field: 1
  - id: chatty-sync
    metricId: sync_count
    kind: count
    countThreshold: 10
    numBuckets: 5
    bucketSizeSec: 60
`)
	alerts, err := LoadAlerts(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected two alerts, got %d", len(alerts))
	}

	m, err := alerts[0].Dimensions.Matcher()
	if err != nil {
		t.Fatalf("matcher conversion failed: %v", err)
	}
	if m.Tag != 100 || len(m.Children) != 1 || m.Children[0].Pos != fieldpath.PositionFirst {
		t.Fatalf("unexpected matcher shape: %+v", m)
	}
	if alerts[1].Kind != AlertKindCount || alerts[1].NumBuckets != 5 {
		t.Fatalf("count alert mangled: %+v", alerts[1])
	}
}

func TestLoadAlertsMissingFileIsEmpty(t *testing.T) {
	alerts, err := LoadAlerts(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing pack must not fail: %v", err)
	}
	if alerts != nil {
		t.Fatalf("expected no alerts, got %v", alerts)
	}
}

func TestLoadAlertsRejectsDuplicates(t *testing.T) {
	path := writePack(t, `
alerts:
  - id: dup
    metricId: m
    kind: duration
    thresholdNs: 1
  - id: dup
    metricId: m
    kind: duration
    thresholdNs: 1
`)
	if _, err := LoadAlerts(path); err == nil {
		t.Fatalf("duplicate ids must fail")
	}
}

func TestValidateRejectsBadAlerts(t *testing.T) {
	cases := []struct {
		name  string
		alert Alert
	}{
		{"missing id", Alert{MetricID: "m", Kind: AlertKindDuration, ThresholdNs: 1}},
		{"unknown kind", Alert{ID: "a", MetricID: "m", Kind: "gauge"}},
		{"zero threshold", Alert{ID: "a", MetricID: "m", Kind: AlertKindDuration}},
		{"no buckets", Alert{ID: "a", MetricID: "m", Kind: AlertKindCount, CountThreshold: 1}},
		{"negative refractory", Alert{ID: "a", MetricID: "m", Kind: AlertKindDuration, ThresholdNs: 1, RefractoryPeriodSec: -1}},
		{"bad position", Alert{ID: "a", MetricID: "m", Kind: AlertKindDuration, ThresholdNs: 1,
			Dimensions: &MatcherSpec{Field: 100, Children: []*MatcherSpec{{Field: 1, Position: "middle"}}}}},
	}
	for _, tc := range cases {
		if err := tc.alert.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
