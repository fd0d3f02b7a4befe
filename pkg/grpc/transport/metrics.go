package transport

import (
	"context"
	"time"

	"github.com/KevoDB/chainlog/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// rpcMetrics records per-call duration and outcome
type rpcMetrics struct {
	tel telemetry.Telemetry
}

func newRPCMetrics(tel telemetry.Telemetry) *rpcMetrics {
	return &rpcMetrics{tel: tel}
}

func (m *rpcMetrics) record(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	result := telemetry.StatusSuccess
	if err != nil {
		result = telemetry.StatusError
	}

	telemetry.RecordDuration(ctx, m.tel, "chainlog.rpc.duration", start,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRPC),
		attribute.String(telemetry.AttrOperationName, method),
		attribute.String(telemetry.AttrStatus, result),
	)
	m.tel.RecordCounter(ctx, "chainlog.rpc.requests", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRPC),
		attribute.String(telemetry.AttrOperationName, method),
		attribute.String("grpc.code", code.String()),
	)
}

func (m *rpcMetrics) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	ctx, span := m.tel.StartSpan(ctx, info.FullMethod)
	defer span.End()

	resp, err := handler(ctx, req)
	m.record(ctx, info.FullMethod, start, err)
	return resp, err
}

func (m *rpcMetrics) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	ctx, span := m.tel.StartSpan(ss.Context(), info.FullMethod)
	defer span.End()

	err := handler(srv, ss)
	m.record(ctx, info.FullMethod, start, err)
	return err
}
