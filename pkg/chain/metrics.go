// ABOUTME: Chain telemetry metrics interface and implementation for tracking chain log operations
// ABOUTME: Provides instrumentation for append, scans, validation, corruption and repair

package chain

import (
	"context"
	"time"

	"github.com/KevoDB/chainlog/pkg/config"
	"github.com/KevoDB/chainlog/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ChainMetrics defines the interface for chain telemetry operations.
// All metrics are optional - implementations can safely be no-op.
type ChainMetrics interface {
	telemetry.ComponentMetrics

	// RecordAppend records metrics for an append.
	RecordAppend(ctx context.Context, duration time.Duration, bytes int64, genesis bool, syncMode string)

	// RecordScan records metrics for a walk or search over the data file.
	RecordScan(ctx context.Context, opType string, duration time.Duration, blocks int, found bool)

	// RecordValidation records the outcome of a validation pass.
	RecordValidation(ctx context.Context, duration time.Duration, blocks int, ok bool)

	// RecordCorruption records when a damaged chain is detected.
	RecordCorruption(ctx context.Context, reason string)

	// RecordRepair records an index rebuild.
	RecordRepair(ctx context.Context, duration time.Duration, blocks int, truncatedBytes int64)

	// RecordError records a failed operation.
	RecordError(ctx context.Context, opType string, kind string)
}

// chainMetrics implements ChainMetrics using the telemetry interface.
type chainMetrics struct {
	tel telemetry.Telemetry
}

// NewChainMetrics creates a new chain metrics implementation.
// If tel is nil, returns a no-op implementation.
func NewChainMetrics(tel telemetry.Telemetry) ChainMetrics {
	if tel == nil {
		return &noopChainMetrics{}
	}
	return &chainMetrics{tel: tel}
}

// NewNoopChainMetrics creates a no-op chain metrics implementation for testing.
func NewNoopChainMetrics() ChainMetrics {
	return &noopChainMetrics{}
}

// RecordAppend records append metrics.
func (m *chainMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64, genesis bool, syncMode string) {
	m.tel.RecordHistogram(ctx, "chainlog.append.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.Bool("genesis", genesis),
		attribute.String("sync_mode", syncMode),
	)

	m.tel.RecordCounter(ctx, "chainlog.append.bytes", bytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
	)

	m.tel.RecordCounter(ctx, "chainlog.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeAppend),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

// RecordScan records walk and search metrics.
func (m *chainMetrics) RecordScan(ctx context.Context, opType string, duration time.Duration, blocks int, found bool) {
	m.tel.RecordHistogram(ctx, "chainlog.scan.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.Bool("found", found),
	)

	m.tel.RecordCounter(ctx, "chainlog.scan.blocks", int64(blocks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, opType),
	)

	m.tel.RecordCounter(ctx, "chainlog.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, telemetry.StatusSuccess),
	)
}

// RecordValidation records validation metrics.
func (m *chainMetrics) RecordValidation(ctx context.Context, duration time.Duration, blocks int, ok bool) {
	m.tel.RecordHistogram(ctx, "chainlog.validate.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeValidate),
		attribute.Bool(telemetry.AttrSuccess, ok),
	)

	m.tel.RecordCounter(ctx, "chainlog.validate.blocks", int64(blocks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
	)
}

// RecordCorruption records corruption detection.
func (m *chainMetrics) RecordCorruption(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "chainlog.corruption.count", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrReason, reason),
	)
}

// RecordRepair records repair metrics.
func (m *chainMetrics) RecordRepair(ctx context.Context, duration time.Duration, blocks int, truncatedBytes int64) {
	m.tel.RecordHistogram(ctx, "chainlog.repair.duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIndex),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRepair),
	)

	m.tel.RecordCounter(ctx, "chainlog.repair.blocks", int64(blocks),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentIndex),
	)

	m.tel.RecordCounter(ctx, "chainlog.repair.truncated_bytes", truncatedBytes,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
	)
}

// RecordError records a failed operation.
func (m *chainMetrics) RecordError(ctx context.Context, opType string, kind string) {
	m.tel.RecordCounter(ctx, "chainlog.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentChain),
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrStatus, telemetry.StatusError),
		attribute.String(telemetry.AttrErrorType, kind),
	)
}

// Close releases any resources held by the metrics implementation.
func (m *chainMetrics) Close() error {
	return nil
}

// noopChainMetrics provides a no-operation implementation for testing or disabled telemetry.
type noopChainMetrics struct{}

func (n *noopChainMetrics) RecordAppend(ctx context.Context, duration time.Duration, bytes int64, genesis bool, syncMode string) {
}

func (n *noopChainMetrics) RecordScan(ctx context.Context, opType string, duration time.Duration, blocks int, found bool) {
}

func (n *noopChainMetrics) RecordValidation(ctx context.Context, duration time.Duration, blocks int, ok bool) {
}

func (n *noopChainMetrics) RecordCorruption(ctx context.Context, reason string) {}

func (n *noopChainMetrics) RecordRepair(ctx context.Context, duration time.Duration, blocks int, truncatedBytes int64) {
}

func (n *noopChainMetrics) RecordError(ctx context.Context, opType string, kind string) {}

// Close is a no-op.
func (n *noopChainMetrics) Close() error {
	return nil
}

// getSyncModeName converts config sync mode to telemetry string
func getSyncModeName(mode config.SyncMode) string {
	switch mode {
	case config.SyncNone:
		return "none"
	case config.SyncImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}
