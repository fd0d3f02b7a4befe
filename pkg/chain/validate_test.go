package chain

import (
	"errors"
	"os"
	"testing"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/index"
	"github.com/KevoDB/chainlog/pkg/stats"
)

// writeRaw appends raw header and payload bytes to path, bypassing Append
func writeRaw(t *testing.T, path string, header *block.Header, payload []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(append(header.Encode(), payload...)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestValidateHealthyChain(t *testing.T) {
	collector := stats.NewAtomicCollector()
	c := newTestChain(t, WithStats(collector))

	var head block.Record
	for _, payload := range []string{"hello", "world", "again"} {
		head = mustAppend(t, c, payload)
	}

	report, err := c.Validate()
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !report.Valid || report.Blocks != 3 || report.Head != head.Hash {
		t.Errorf("unexpected report: %+v", report)
	}
	if !report.IndexChecked || report.IndexCount != 3 {
		t.Errorf("index not checked: %+v", report)
	}
	if report.DataSize != int64(head.OffsetEnd) {
		t.Errorf("expected data size %d, got %d", head.OffsetEnd, report.DataSize)
	}

	if passed := collector.GetStats()["validations_passed"].(uint64); passed != 1 {
		t.Errorf("expected one passed validation, got %d", passed)
	}
}

func TestValidateBrokenLink(t *testing.T) {
	c := newTestChain(t)
	mustAppend(t, c, "hello")
	mustAppend(t, c, "world")
	mustAppend(t, c, "again")

	// Flip a payload byte of block 2; block 3 no longer links to it
	f, err := os.OpenFile(c.DataPath(), os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	f.WriteAt([]byte("W"), 50+block.HeaderSize)
	f.Close()

	report, err := c.Validate()
	if !errors.Is(err, ErrBrokenLink) {
		t.Fatalf("expected ErrBrokenLink, got %v", err)
	}
	if report.Valid || report.BrokenAt != 3 || report.Blocks != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Problem == "" {
		t.Errorf("expected a problem description")
	}

	// Readers do not check linkage
	if _, err := c.Records(); err != nil {
		t.Errorf("walk should still succeed, got %v", err)
	}
}

func TestValidateGenesisPrevHash(t *testing.T) {
	c := newTestChain(t)

	var prev block.Hash
	prev[0] = 1
	writeRaw(t, c.DataPath(), block.NewHeader(1, prev, 2), []byte("hi"))

	report, err := c.Validate()
	if !errors.Is(err, ErrBrokenLink) || report.BrokenAt != 1 {
		t.Errorf("expected broken genesis link, got %+v %v", report, err)
	}
}

func TestValidateBadVersion(t *testing.T) {
	c := newTestChain(t)

	header := block.NewHeader(1, block.ZeroHash, 2)
	header.Version = 2
	writeRaw(t, c.DataPath(), header, []byte("hi"))

	report, err := c.Validate()
	if !errors.Is(err, ErrMalformedHeader) || report.BrokenAt != 1 {
		t.Errorf("expected malformed header at 1, got %+v %v", report, err)
	}
}

func TestValidateIndexMismatch(t *testing.T) {
	t.Run("missing index", func(t *testing.T) {
		c := newTestChain(t)
		mustAppend(t, c, "hello")
		os.Remove(c.IndexPath())

		if _, err := c.Validate(); !errors.Is(err, ErrMissingIndexFile) {
			t.Errorf("expected ErrMissingIndexFile, got %v", err)
		}

		// Data-only validation ignores the index
		if report, err := Validate(c.DataPath(), ""); err != nil || report.IndexChecked {
			t.Errorf("data-only validation: %+v %v", report, err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		c := newTestChain(t)
		first := mustAppend(t, c, "hello")
		writeRaw(t, c.DataPath(), block.NewHeader(1, first.Hash, 1), []byte("x"))

		report, err := c.Validate()
		if !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("expected ErrCorruptIndex, got %v", err)
		}
		if report.Blocks != 2 || report.IndexCount != 1 || report.BrokenAt != 2 {
			t.Errorf("unexpected report: %+v", report)
		}
	})

	t.Run("entry mismatch", func(t *testing.T) {
		c := newTestChain(t)
		mustAppend(t, c, "hello")
		mustAppend(t, c, "world")

		b, err := index.NewBuilder(c.IndexPath())
		if err != nil {
			t.Fatalf("NewBuilder failed: %v", err)
		}
		b.Add(index.Entry{Offset: 0, Length: 50})
		b.Add(index.Entry{Offset: 51, Length: 49})
		if err := b.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		report, err := c.Validate()
		if !errors.Is(err, ErrCorruptIndex) || report.BrokenAt != 2 {
			t.Errorf("expected entry 2 mismatch, got %+v %v", report, err)
		}
	})
}

func TestValidateTruncated(t *testing.T) {
	c := newTestChain(t)
	mustAppend(t, c, "hello")
	mustAppend(t, c, "world")
	os.Truncate(c.DataPath(), 60)

	report, err := c.Validate()
	if !errors.Is(err, ErrTruncatedBlock) || report.BrokenAt != 2 {
		t.Errorf("expected truncation at block 2, got %+v %v", report, err)
	}
}

func TestValidateMissingData(t *testing.T) {
	c := newTestChain(t)
	if _, err := c.Validate(); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}
