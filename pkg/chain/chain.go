// Package chain implements an append-only, hash-linked block log stored as a
// flat data file plus a companion index file.
//
// Every block carries the SHA-256 hash of the block before it, so any edit to
// an earlier block breaks the link to the one after it. The index holds the
// (offset, length) of every block so that appends can find the previous block
// without scanning. No chain state is kept in memory between calls: each
// operation opens, uses and closes the files it needs.
package chain

import (
	"context"
	"iter"
	"os"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/config"
	"github.com/KevoDB/chainlog/pkg/stats"
)

type options struct {
	logger      log.Logger
	collector   stats.Collector
	metrics     ChainMetrics
	syncMode    config.SyncMode
	locking     bool
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Chain
type Option func(*options)

// WithLogger sets the logger used for append, corruption and repair events
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStats sets the collector that receives operation counts and latencies
func WithStats(collector stats.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// WithMetrics sets the telemetry metrics sink
func WithMetrics(metrics ChainMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithSyncMode sets whether appends fsync the data and index files
func WithSyncMode(mode config.SyncMode) Option {
	return func(o *options) {
		o.syncMode = mode
	}
}

// WithLocking enables or disables the exclusive writer lock taken by Append
// and Repair
func WithLocking(enabled bool) Option {
	return func(o *options) {
		o.locking = enabled
	}
}

// WithLockTimeout makes writers wait up to d for a held lock instead of
// failing with ErrLocked immediately
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = d
	}
}

// WithClock replaces the time source used for block timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Chain identifies one (data file, index file) pair together with the
// options used to access it. It holds no open files.
type Chain struct {
	dataPath  string
	indexPath string
	opts      options
}

// New returns a Chain for dataPath. An empty indexPath selects the default
// dataPath + ".idx".
func New(dataPath, indexPath string, opts ...Option) *Chain {
	if indexPath == "" {
		indexPath = config.DefaultIndexPath(dataPath)
	}

	o := options{
		syncMode: config.SyncImmediate,
		locking:  true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.GetDefaultLogger()
	}
	if o.collector == nil {
		o.collector = stats.NewAtomicCollector()
	}
	if o.metrics == nil {
		o.metrics = NewNoopChainMetrics()
	}
	o.logger = o.logger.WithField("component", "chain")

	return &Chain{
		dataPath:  dataPath,
		indexPath: indexPath,
		opts:      o,
	}
}

// NewFromConfig returns a Chain using the paths, sync mode and locking
// settings of cfg. Options given here override the config.
func NewFromConfig(cfg *config.Config, opts ...Option) *Chain {
	base := []Option{
		WithSyncMode(cfg.SyncMode),
		WithLocking(cfg.LockEnabled),
		WithLockTimeout(time.Duration(cfg.LockTimeout) * time.Millisecond),
	}
	return New(cfg.DataPath, cfg.IndexPath, append(base, opts...)...)
}

// DataPath returns the data file path
func (c *Chain) DataPath() string {
	return c.dataPath
}

// IndexPath returns the index file path
func (c *Chain) IndexPath() string {
	return c.indexPath
}

// Stats returns the collector this chain reports to
func (c *Chain) Stats() stats.Collector {
	return c.opts.collector
}

// observe records the outcome of op in stats and metrics
func (c *Chain) observe(op stats.OperationType, start time.Time, err error) {
	if err != nil {
		kind := ErrorKind(err)
		c.opts.collector.TrackError(kind)
		c.opts.metrics.RecordError(context.Background(), string(op), kind)
		return
	}
	c.opts.collector.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
}

// Info summarizes a chain without scanning it
type Info struct {
	Blocks           uint32
	DataSize         int64
	IndexSize        int64
	Head             block.Hash
	GenesisTimestamp uint32
	HeadTimestamp    uint32
}

// Info reads the block count from the index and rehashes the head block
func (c *Chain) Info() (Info, error) {
	var info Info

	dataStat, err := os.Stat(c.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return info, ErrFileNotFound
		}
		return info, err
	}
	info.DataSize = dataStat.Size()

	indexStat, err := os.Stat(c.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return info, ErrMissingIndexFile
		}
		return info, err
	}
	info.IndexSize = indexStat.Size()

	return c.headInfo(info)
}

// Package-level helpers operate on a Chain built with default options.

// Append adds payload as the next block of the chain at dataPath/indexPath
func Append(dataPath, indexPath string, payload []byte) (block.Record, error) {
	return New(dataPath, indexPath).Append(payload)
}

// Walk lazily yields every block in the data file in order
func Walk(dataPath string) iter.Seq2[block.Record, error] {
	return New(dataPath, "").Walk()
}

// Records materializes Walk into a slice
func Records(dataPath string) ([]block.Record, error) {
	return New(dataPath, "").Records()
}

// FindByHash returns the first block whose hash equals hashHex
func FindByHash(dataPath, hashHex string) (block.Record, error) {
	return New(dataPath, "").FindByHash(hashHex)
}

// FindByPrevHash returns the first block whose prevHash equals hashHex
func FindByPrevHash(dataPath, hashHex string) (block.Record, error) {
	return New(dataPath, "").FindByPrevHash(hashHex)
}

// Validate checks linkage of the data file and, when indexPath is not
// empty, the index against it
func Validate(dataPath, indexPath string) (ValidationReport, error) {
	c := New(dataPath, indexPath)
	if indexPath == "" {
		return c.validate(false)
	}
	return c.validate(true)
}

// Repair rebuilds the index at indexPath from the data file
func Repair(dataPath, indexPath string) (RepairReport, error) {
	return New(dataPath, indexPath).Repair()
}
