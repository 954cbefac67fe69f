// mock-alarmd stands in for the platform alarm daemon during local
// development: it accepts deadline registrations and cancellations and
// logs them. It never fires callbacks; the engine's catch-up polling
// covers firing in this setup.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type alarmDaemon struct {
	mu          sync.Mutex
	deadlineSec uint32
}

func (d *alarmDaemon) registerAlarm(_ context.Context, in *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	d.mu.Lock()
	d.deadlineSec = in.GetValue()
	d.mu.Unlock()
	log.Printf("registered alarm at %d (%s)", in.GetValue(), time.Unix(int64(in.GetValue()), 0).Format(time.RFC3339))
	return &emptypb.Empty{}, nil
}

func (d *alarmDaemon) cancelAlarm(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	d.mu.Lock()
	d.deadlineSec = 0
	d.mu.Unlock()
	log.Printf("cancelled alarm")
	return &emptypb.Empty{}, nil
}

func registerAlarmHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.UInt32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(*alarmDaemon).registerAlarm(ctx, in)
}

func cancelAlarmHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return srv.(*alarmDaemon).cancelAlarm(ctx, in)
}

// Hand-written service descriptor: the payloads are well-known types,
// so there is no generated code to lean on.
var alarmServiceDesc = grpc.ServiceDesc{
	ServiceName: "mirador.alarmd.v1.AlarmService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAlarm", Handler: registerAlarmHandler},
		{MethodName: "CancelAlarm", Handler: cancelAlarmHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func main() {
	addr := flag.String("addr", ":7000", "listen address")
	flag.Parse()

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen on %s: %v", *addr, err)
	}

	server := grpc.NewServer()
	server.RegisterService(&alarmServiceDesc, &alarmDaemon{})

	log.Printf("mock-alarmd listening on %s", *addr)
	if err := server.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
