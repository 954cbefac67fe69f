// Package ingest decodes newline-delimited JSON metric events and feeds
// them to the engine. Event payloads use the proto JSON value model, so
// nested atoms arrive as objects keyed by field number and repeated
// fields as arrays.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-anomaly/internal/fieldpath"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

// Handler consumes decoded events.
type Handler interface {
	HandleEvent(models.MetricEvent)
}

// Reader streams JSONL events into a handler.
type Reader struct {
	logger *slog.Logger
}

// NewReader builds a reader logging through the supplied logger.
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

// Open resolves the configured event source; "-" or empty means stdin.
func Open(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// Run decodes events from r until EOF or context cancellation. Lines
// that fail to decode are logged and skipped rather than aborting the
// stream.
func (rd *Reader) Run(ctx context.Context, r io.Reader, h Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			rd.logger.Warn("skipping undecodable event", slog.Any("error", err))
			continue
		}
		h.HandleEvent(ev)
	}
	return scanner.Err()
}

// ParseEvent decodes one JSON event line. timestampNs accepts both a
// JSON number and the proto JSON string form of an int64.
func ParseEvent(line []byte) (models.MetricEvent, error) {
	var envelope structpb.Struct
	if err := protojson.Unmarshal(line, &envelope); err != nil {
		return models.MetricEvent{}, utils.NewAppError("ingest.parse", "decode event", err)
	}
	fields := envelope.GetFields()

	ev := models.MetricEvent{
		MetricID: fields["metricId"].GetStringValue(),
		Kind:     models.EventKind(fields["kind"].GetStringValue()),
	}
	if ev.MetricID == "" {
		return models.MetricEvent{}, utils.NewAppError("ingest.parse", "missing metricId", nil)
	}
	switch ev.Kind {
	case models.EventStart, models.EventStop, models.EventConditionFalse:
	default:
		return models.MetricEvent{}, utils.NewAppError("ingest.parse", fmt.Sprintf("unknown event kind %q", ev.Kind), nil)
	}

	ts, err := timestampOf(fields["timestampNs"])
	if err != nil {
		return models.MetricEvent{}, utils.NewAppError("ingest.parse", "timestampNs", err)
	}
	ev.TimestampNs = ts

	values, err := valuesOf(fields["values"].GetStructValue())
	if err != nil {
		return models.MetricEvent{}, utils.NewAppError("ingest.parse", "values", err)
	}
	ev.Values = values
	return ev, nil
}

func timestampOf(v *structpb.Value) (int64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return strconv.ParseInt(k.StringValue, 10, 64)
	case *structpb.Value_NumberValue:
		return int64(k.NumberValue), nil
	}
	return 0, errors.New("missing or non-numeric")
}

// link is one level of a field chain under construction.
type link struct {
	tag   int32
	index int32
}

func valuesOf(s *structpb.Struct) (*fieldpath.FieldValueMap, error) {
	m := fieldpath.NewFieldValueMap()
	if s == nil {
		return m, nil
	}
	for key, val := range s.GetFields() {
		tag, err := tagOf(key)
		if err != nil {
			return nil, err
		}
		if err := insertValue(m, []link{{tag: tag, index: fieldpath.IndexUnset}}, val); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func insertValue(m *fieldpath.FieldValueMap, path []link, v *structpb.Value) error {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		for key, sub := range k.StructValue.GetFields() {
			tag, err := tagOf(key)
			if err != nil {
				return err
			}
			next := append(append([]link(nil), path...), link{tag: tag, index: fieldpath.IndexUnset})
			if err := insertValue(m, next, sub); err != nil {
				return err
			}
		}
	case *structpb.Value_ListValue:
		for i, elem := range k.ListValue.GetValues() {
			indexed := append([]link(nil), path...)
			indexed[len(indexed)-1].index = int32(i)
			if err := insertValue(m, indexed, elem); err != nil {
				return err
			}
		}
	case *structpb.Value_StringValue:
		m.Insert(chain(path), fieldpath.StringValue(k.StringValue))
	case *structpb.Value_BoolValue:
		m.Insert(chain(path), fieldpath.BoolValue(k.BoolValue))
	case *structpb.Value_NumberValue:
		m.Insert(chain(path), numberValue(k.NumberValue))
	case *structpb.Value_NullValue, nil:
		// Null leaves carry nothing.
	}
	return nil
}

func chain(path []link) *fieldpath.Field {
	root := fieldpath.NewField(path[0].tag)
	root.Index = path[0].index
	node := root
	for _, l := range path[1:] {
		node = node.Append(l.tag)
		node.Index = l.index
	}
	return root
}

func numberValue(v float64) fieldpath.Value {
	if v == math.Trunc(v) {
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return fieldpath.IntValue(int32(v))
		}
		return fieldpath.LongValue(int64(v))
	}
	return fieldpath.FloatValue(float32(v))
}

func tagOf(key string) (int32, error) {
	tag, err := strconv.ParseInt(key, 10, 32)
	if err != nil || tag <= 0 {
		return 0, fmt.Errorf("invalid field number %q", key)
	}
	return int32(tag), nil
}
