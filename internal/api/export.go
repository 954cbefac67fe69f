package api

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-anomaly/internal/models"
)

// ExportSubscriber appends every declared anomaly to a JSONL sink in
// proto JSON form, one record per line. Writes are serialised; a failed
// write is logged and the anomaly dropped from the export stream only.
type ExportSubscriber struct {
	mu     sync.Mutex
	w      io.Writer
	logger *slog.Logger
}

// NewExportSubscriber wraps a writer as an anomaly subscriber.
func NewExportSubscriber(w io.Writer, logger *slog.Logger) *ExportSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportSubscriber{w: w, logger: logger}
}

// OpenExport opens the export sink for appending.
func OpenExport(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// OnAnomaly renders one export record. The timestamp uses the proto
// JSON string form of int64 so consumers keep nanosecond precision.
func (s *ExportSubscriber) OnAnomaly(alert models.Alert, key models.DimensionKey, timestampNs int64) {
	fields := map[string]any{
		"alert":       alert.ID,
		"metric":      alert.MetricID,
		"kind":        string(alert.Kind),
		"timestampNs": strconv.FormatInt(timestampNs, 10),
		"dimension":   key.What,
	}
	if key.Condition != "" {
		fields["condition"] = key.Condition
	}
	record, err := structpb.NewStruct(fields)
	if err != nil {
		s.logger.Warn("export record build failed", slog.Any("error", err))
		return
	}
	payload, err := protojson.Marshal(record)
	if err != nil {
		s.logger.Warn("export record marshal failed", slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(payload, '\n')); err != nil {
		s.logger.Warn("export write failed", slog.Any("error", err))
	}
}
