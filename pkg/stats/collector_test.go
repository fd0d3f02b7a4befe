package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	// Track operations
	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpFindHash)

	// Get stats
	stats := collector.GetStats()

	// Verify counts
	if stats["append_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 append operations, got %v", stats["append_ops"])
	}

	if stats["find_hash_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 find_hash operation, got %v", stats["find_hash_ops"])
	}

	// Verify last operation times exist
	if _, exists := stats["last_append_time"]; !exists {
		t.Errorf("Expected last_append_time to exist in stats")
	}

	if _, exists := stats["last_find_hash_time"]; !exists {
		t.Errorf("Expected last_find_hash_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	// Track operations with latency
	collector.TrackOperationWithLatency(OpFindHash, 100)
	collector.TrackOperationWithLatency(OpFindHash, 200)
	collector.TrackOperationWithLatency(OpFindHash, 300)

	// Get stats
	stats := collector.GetStats()

	// Check latency stats
	latencyStats, ok := stats["find_hash_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected find_hash_latency to be a map, got %T", stats["find_hash_latency"])
	}

	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}

	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200ns, got %v", avg)
	}

	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100ns, got %v", min)
	}

	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300ns, got %v", max)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const numGoroutines = 10
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// Launch goroutines to track operations concurrently
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			for j := 0; j < opsPerGoroutine; j++ {
				// Mix different operations
				switch j % 3 {
				case 0:
					collector.TrackOperation(OpAppend)
				case 1:
					collector.TrackOperation(OpFindHash)
				case 2:
					collector.TrackOperationWithLatency(OpWalk, uint64(j))
				}
			}
		}(i)
	}

	wg.Wait()

	// Get stats
	stats := collector.GetStats()

	// There should be approximately opsPerGoroutine * numGoroutines / 3 operations of each type
	expectedOps := uint64(numGoroutines * opsPerGoroutine / 3)

	// Allow for small variations due to concurrent execution
	// Use 99% of expected as minimum threshold
	minThreshold := expectedOps * 99 / 100

	if ops := stats["append_ops"].(uint64); ops < minThreshold {
		t.Errorf("Expected approximately %d append operations, got %v (below threshold %d)",
			expectedOps, ops, minThreshold)
	}

	if ops := stats["find_hash_ops"].(uint64); ops < minThreshold {
		t.Errorf("Expected approximately %d find_hash operations, got %v (below threshold %d)",
			expectedOps, ops, minThreshold)
	}

	if ops := stats["walk_ops"].(uint64); ops < minThreshold {
		t.Errorf("Expected approximately %d walk operations, got %v (below threshold %d)",
			expectedOps, ops, minThreshold)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()

	// Track different operations
	collector.TrackOperation(OpAppend)
	collector.TrackOperation(OpFindHash)
	collector.TrackOperation(OpFindHash)
	collector.TrackOperation(OpWalk)
	collector.TrackError("io_error")
	collector.TrackError("network_error")

	// Filter by "find" prefix
	getStats := collector.GetStatsFiltered("find")

	// Should only contain find_* stats
	if len(getStats) == 0 {
		t.Errorf("Expected non-empty filtered stats")
	}

	if _, exists := getStats["find_hash_ops"]; !exists {
		t.Errorf("Expected find_hash_ops in filtered stats")
	}

	if _, exists := getStats["append_ops"]; exists {
		t.Errorf("Did not expect append_ops in find-filtered stats")
	}

	// Filter by "error" prefix
	errorStats := collector.GetStatsFiltered("error")

	if _, exists := errorStats["errors"]; !exists {
		t.Errorf("Expected errors in error-filtered stats")
	}
}

func TestCollector_TrackBytes(t *testing.T) {
	collector := NewAtomicCollector()

	// Track read and write bytes
	collector.TrackBytes(true, 1000) // write
	collector.TrackBytes(false, 500) // read

	stats := collector.GetStats()

	if bytesWritten := stats["total_bytes_written"].(uint64); bytesWritten != 1000 {
		t.Errorf("Expected 1000 bytes written, got %v", bytesWritten)
	}

	if bytesRead := stats["total_bytes_read"].(uint64); bytesRead != 500 {
		t.Errorf("Expected 500 bytes read, got %v", bytesRead)
	}
}

func TestCollector_TrackChainLength(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackChainLength(12)
	if length := collector.GetStats()["chain_length"].(uint64); length != 12 {
		t.Errorf("Expected chain length 12, got %v", length)
	}

	collector.TrackChainLength(13)
	if length := collector.GetStats()["chain_length"].(uint64); length != 13 {
		t.Errorf("Expected updated chain length 13, got %v", length)
	}
}

func TestCollector_TrackValidation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackValidation(true)
	collector.TrackValidation(true)
	collector.TrackValidation(false)

	stats := collector.GetStats()
	if passed := stats["validations_passed"].(uint64); passed != 2 {
		t.Errorf("Expected 2 passed validations, got %v", passed)
	}
	if failed := stats["validations_failed"].(uint64); failed != 1 {
		t.Errorf("Expected 1 failed validation, got %v", failed)
	}
}

func TestCollector_RepairStats(t *testing.T) {
	collector := NewAtomicCollector()

	startTime := collector.StartRepair()

	// Simulate some work
	time.Sleep(10 * time.Millisecond)

	collector.FinishRepair(startTime, 42, 17)

	stats := collector.GetStats()
	repairStats, ok := stats["repair"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected repair stats to be a map")
	}

	if indexed := repairStats["blocks_indexed"].(uint64); indexed != 42 {
		t.Errorf("Expected 42 blocks indexed, got %v", indexed)
	}

	if truncated := repairStats["truncated_bytes"].(uint64); truncated != 17 {
		t.Errorf("Expected 17 truncated bytes, got %v", truncated)
	}

	if _, exists := repairStats["repair_duration_ms"]; !exists {
		t.Errorf("Expected repair duration to be recorded")
	}
}
