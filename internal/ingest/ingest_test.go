package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-anomaly/internal/dimension"
	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

func TestParseEventNestedAtom(t *testing.T) {
	line := []byte(`{
		"metricId": "sync_duration",
		"kind": "start",
		"timestampNs": "1700000000000000001",
		"values": {"100": {"1": [{"1": 111, "2": "calendar"}, {"1": 222, "2": "mail"}], "2": "sync"}}
	}`)
	ev, err := ParseEvent(line)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.MetricID != "sync_duration" || ev.Kind != models.EventStart {
		t.Fatalf("envelope mangled: %+v", ev)
	}
	if ev.TimestampNs != 1700000000000000001 {
		t.Fatalf("int64 string timestamp lost precision: %d", ev.TimestampNs)
	}
	if ev.Values.Len() != 5 {
		t.Fatalf("expected five flattened leaves, got %d", ev.Values.Len())
	}

	matcher := &fieldpath.Matcher{Tag: 100, Children: []*fieldpath.Matcher{
		{Tag: 1, Pos: fieldpath.PositionFirst, Children: []*fieldpath.Matcher{{Tag: 1}}},
		{Tag: 2},
	}}
	dims := dimension.Find(ev.Values, matcher)
	if len(dims) != 1 || dims[0].String() != "100:{1:{1:111}|2:sync}" {
		t.Fatalf("decoded atom does not extract: %v", dims)
	}
}

func TestParseEventNumericTimestamp(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"metricId":"m","kind":"stop","timestampNs":42000000000,"values":{}}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if ev.TimestampNs != 42000000000 {
		t.Fatalf("unexpected timestamp %d", ev.TimestampNs)
	}
	if ev.Values.Len() != 0 {
		t.Fatalf("expected empty values, got %d", ev.Values.Len())
	}
}

func TestParseEventRejectsBadEnvelopes(t *testing.T) {
	cases := []string{
		`{"kind":"start","timestampNs":1}`,
		`{"metricId":"m","kind":"pause","timestampNs":1}`,
		`{"metricId":"m","kind":"start"}`,
		`{"metricId":"m","kind":"start","timestampNs":1,"values":{"abc":1}}`,
		`not json`,
	}
	for _, line := range cases {
		if _, err := ParseEvent([]byte(line)); err == nil {
			t.Fatalf("expected rejection of %s", line)
		}
	}
}

type handlerStub struct {
	events []models.MetricEvent
}

func (h *handlerStub) HandleEvent(ev models.MetricEvent) {
	h.events = append(h.events, ev)
}

func TestRunSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"metricId":"m","kind":"start","timestampNs":1,"values":{}}`,
		``,
		`garbage`,
		`{"metricId":"m","kind":"stop","timestampNs":2,"values":{}}`,
	}, "\n")

	h := &handlerStub{}
	if err := NewReader(nil).Run(context.Background(), strings.NewReader(input), h); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(h.events) != 2 {
		t.Fatalf("expected two decoded events, got %d", len(h.events))
	}
	if h.events[0].Kind != models.EventStart || h.events[1].Kind != models.EventStop {
		t.Fatalf("events out of order: %+v", h.events)
	}
}
