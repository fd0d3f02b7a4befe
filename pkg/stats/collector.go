package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpAppend       OperationType = "append"
	OpWalk         OperationType = "walk"
	OpFindHash     OperationType = "find_hash"
	OpFindPrevHash OperationType = "find_prev_hash"
	OpValidate     OperationType = "validate"
	OpRepair       OperationType = "repair"
	OpExport       OperationType = "export"
	OpImport       OperationType = "import"
)

// AtomicCollector provides centralized statistics collection with minimal contention
// using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex // Only used for timestamp updates

	// Usage metrics
	chainLength       atomic.Uint64
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex // Only used when creating new error entries

	// Validation outcomes
	validationsPassed atomic.Uint64
	validationsFailed atomic.Uint64

	// Repair statistics
	repairStats RepairStats

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex // Only used when creating new latency trackers
}

// RepairStats tracks statistics about the last index repair
type RepairStats struct {
	BlocksIndexed  atomic.Uint64
	TruncatedBytes atomic.Uint64
	RepairDuration atomic.Int64 // nanoseconds
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds, 0 until the first sample
}

// NewAtomicCollector creates a new atomic statistics collector
// This is the recommended collector implementation for production use
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	c.getOrCreateCounter(op).Add(1)
	c.touch(op)
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)
	c.getOrCreateLatencyTracker(op).record(latencyNs)
}

// touch stamps the last time op ran
func (c *AtomicCollector) touch(op OperationType) {
	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// record adds one sample. min and max are raised with compare-and-swap so
// concurrent operations never lose an extreme.
func (t *LatencyTracker) record(ns uint64) {
	t.count.Add(1)
	t.sum.Add(ns)

	for {
		current := t.max.Load()
		if ns <= current || t.max.CompareAndSwap(current, ns) {
			break
		}
	}
	for {
		current := t.min.Load()
		if current != 0 && ns >= current {
			break
		}
		if t.min.CompareAndSwap(current, ns) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackChainLength records the last observed block count
func (c *AtomicCollector) TrackChainLength(blocks uint64) {
	c.chainLength.Store(blocks)
}

// TrackValidation records the outcome of a chain validation
func (c *AtomicCollector) TrackValidation(ok bool) {
	if ok {
		c.validationsPassed.Add(1)
	} else {
		c.validationsFailed.Add(1)
	}
}

// StartRepair initializes repair statistics
func (c *AtomicCollector) StartRepair() time.Time {
	c.repairStats.BlocksIndexed.Store(0)
	c.repairStats.TruncatedBytes.Store(0)
	c.repairStats.RepairDuration.Store(0)

	return time.Now()
}

// FinishRepair completes repair statistics
func (c *AtomicCollector) FinishRepair(startTime time.Time, blocksIndexed, truncatedBytes uint64) {
	c.repairStats.BlocksIndexed.Store(blocksIndexed)
	c.repairStats.TruncatedBytes.Store(truncatedBytes)
	c.repairStats.RepairDuration.Store(time.Since(startTime).Nanoseconds())
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	// Add operation counters
	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats[string(op)+"_ops"] = counter.Load()
	}
	c.countsMu.RUnlock()

	// Add timing information
	c.lastOpTimeMu.RLock()
	for op, timestamp := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = timestamp.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	// Add performance metrics
	stats["chain_length"] = c.chainLength.Load()
	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["validations_passed"] = c.validationsPassed.Load()
	stats["validations_failed"] = c.validationsFailed.Load()

	// Add error statistics
	c.errorsMu.RLock()
	errorStats := make(map[string]uint64)
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	// Add repair statistics
	repairStats := map[string]interface{}{
		"blocks_indexed":  c.repairStats.BlocksIndexed.Load(),
		"truncated_bytes": c.repairStats.TruncatedBytes.Load(),
	}

	repairDuration := c.repairStats.RepairDuration.Load()
	if repairDuration > 0 {
		repairStats["repair_duration_ms"] = repairDuration / int64(time.Millisecond)
	}
	stats["repair"] = repairStats

	// Add latency statistics
	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}

		latencyStats := map[string]interface{}{
			"count":  count,
			"avg_ns": tracker.sum.Load() / count,
		}

		// Only include min/max if we have values
		if min := tracker.min.Load(); min != 0 {
			latencyStats["min_ns"] = min
		}
		if max := tracker.max.Load(); max != 0 {
			latencyStats["max_ns"] = max
		}

		stats[string(op)+"_latency"] = latencyStats
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	allStats := c.GetStats()
	filtered := make(map[string]interface{})

	for key, value := range allStats {
		// Add entries that start with the prefix
		if len(prefix) == 0 || strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}

	return filtered
}

// getOrCreateCounter gets or creates an atomic counter for the operation
func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	// Try read lock first (fast path)
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

// getOrCreateLatencyTracker gets or creates a latency tracker for the operation
func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	// Try read lock first (fast path)
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		// Slow path with write lock
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
