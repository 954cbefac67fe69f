package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// AlarmService RPC surface of the platform alarm daemon. The payloads are
// well-known wrapper types, so no generated stubs are required.
const (
	registerAlarmMethod = "/mirador.alarmd.v1.AlarmService/RegisterAlarm"
	cancelAlarmMethod   = "/mirador.alarmd.v1.AlarmService/CancelAlarm"
)

// RemoteService registers deadlines with a platform alarm daemon over
// gRPC. Calls are fire-and-forget: failures are logged and dropped, and
// the queue's hysteresis plus reactive PopSoonerThan catch-ups absorb a
// missed update.
type RemoteService struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *slog.Logger
}

// NewRemoteService dials the alarm daemon. The connection is lazy, so
// this fails only on malformed targets.
func NewRemoteService(target string, timeout time.Duration, logger *slog.Logger) (*RemoteService, error) {
	if target == "" {
		return nil, fmt.Errorf("alarm daemon target is required")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial alarm daemon %s: %w", target, err)
	}
	return &RemoteService{conn: conn, timeout: timeout, logger: logger}, nil
}

// RegisterAlarmAt pushes the deadline to the daemon.
func (s *RemoteService) RegisterAlarmAt(timestampSec uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.conn.Invoke(ctx, registerAlarmMethod, wrapperspb.UInt32(timestampSec), &emptypb.Empty{})
	if err != nil {
		s.logger.Warn("alarm registration failed",
			slog.Uint64("timestamp_sec", uint64(timestampSec)), slog.Any("error", err))
	}
}

// CancelAlarm clears the daemon-side registration.
func (s *RemoteService) CancelAlarm() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.conn.Invoke(ctx, cancelAlarmMethod, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		s.logger.Warn("alarm cancellation failed", slog.Any("error", err))
	}
}

// Close releases the client connection.
func (s *RemoteService) Close() error {
	return s.conn.Close()
}
