package api

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

func TestExportSubscriberWritesRecords(t *testing.T) {
	var buf bytes.Buffer
	sub := NewExportSubscriber(&buf, nil)

	alert := models.Alert{ID: "slow-sync", MetricID: "sync_duration", Kind: models.AlertKindDuration}
	sub.OnAnomaly(alert, models.DimensionKey{What: "100:{2:alpha}"}, 1700000000000000001)
	sub.OnAnomaly(alert, models.DimensionKey{What: "100:{2:beta}", Condition: "200:1"}, 5_000_000_000)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected two records, got %d", len(lines))
	}

	var first structpb.Struct
	if err := protojson.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("record is not valid proto JSON: %v", err)
	}
	fields := first.GetFields()
	if fields["alert"].GetStringValue() != "slow-sync" {
		t.Fatalf("alert id lost: %v", fields)
	}
	if fields["timestampNs"].GetStringValue() != "1700000000000000001" {
		t.Fatalf("timestamp must keep int64 precision: %v", fields["timestampNs"])
	}
	if _, ok := fields["condition"]; ok {
		t.Fatalf("condition must be omitted when empty")
	}

	var second structpb.Struct
	if err := protojson.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("second record invalid: %v", err)
	}
	if second.GetFields()["condition"].GetStringValue() != "200:1" {
		t.Fatalf("condition key lost: %v", second.GetFields())
	}
}
