package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/telemetry"
)

func newChain(t *testing.T, dir, name string) *chain.Chain {
	t.Helper()
	return chain.New(filepath.Join(dir, name), "",
		chain.WithLogger(log.NewNopLogger()),
		chain.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func fillChain(t *testing.T, c *chain.Chain, n int) []block.Record {
	t.Helper()
	var records []block.Record
	for i := 0; i < n; i++ {
		// Repetitive payloads so that compression has something to do
		payload := bytes.Repeat([]byte(fmt.Sprintf("entry-%03d ", i)), 20)
		rec, err := c.Append(payload)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecSnappy, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := t.TempDir()
			src := newChain(t, dir, "src.dat")
			records := fillChain(t, src, 25)
			head := records[len(records)-1]

			archivePath := filepath.Join(dir, "chain.archive")
			footer, err := Export(src, archivePath, codec, WithLogger(log.NewNopLogger()))
			if err != nil {
				t.Fatalf("Export failed: %v", err)
			}
			if footer.Blocks != 25 || footer.Head != head.Hash || footer.RawSize != uint64(head.OffsetEnd) {
				t.Errorf("unexpected footer: %+v", footer)
			}
			if codec != CodecNone && footer.CompressedSize >= footer.RawSize {
				t.Errorf("%s did not compress: %d >= %d", codec, footer.CompressedSize, footer.RawSize)
			}

			read, err := ReadFooter(archivePath)
			if err != nil {
				t.Fatalf("ReadFooter failed: %v", err)
			}
			if *read != *footer {
				t.Errorf("footer on disk differs: %+v vs %+v", read, footer)
			}

			dst := newChain(t, dir, "dst.dat")
			if _, err := Import(archivePath, dst, WithLogger(log.NewNopLogger())); err != nil {
				t.Fatalf("Import failed: %v", err)
			}

			want, _ := os.ReadFile(src.DataPath())
			got, _ := os.ReadFile(dst.DataPath())
			if !bytes.Equal(want, got) {
				t.Errorf("imported data file differs from source")
			}

			rec, err := dst.FindByHash(head.Hash.String())
			if err != nil || rec.Position != 25 {
				t.Errorf("head not found in imported chain: %+v %v", rec, err)
			}
			if rec, err := dst.Append([]byte("after import")); err != nil || rec.PrevHash != head.Hash {
				t.Errorf("append to imported chain: %+v %v", rec, err)
			}
		})
	}
}

func TestExportRefusesDamagedChain(t *testing.T) {
	dir := t.TempDir()
	c := newChain(t, dir, "src.dat")
	fillChain(t, c, 3)

	f, _ := os.OpenFile(c.DataPath(), os.O_WRONLY, 0)
	f.WriteAt([]byte("X"), block.HeaderSize)
	f.Close()

	archivePath := filepath.Join(dir, "chain.archive")
	if _, err := Export(c, archivePath, CodecZstd); !errors.Is(err, chain.ErrBrokenLink) {
		t.Errorf("expected ErrBrokenLink, got %v", err)
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Errorf("archive should not exist after a failed export")
	}
}

func TestExportUnknownCodec(t *testing.T) {
	dir := t.TempDir()
	c := newChain(t, dir, "src.dat")
	fillChain(t, c, 1)

	if _, err := Export(c, filepath.Join(dir, "a"), Codec(42)); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestImportRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := newChain(t, dir, "src.dat")
	fillChain(t, src, 2)

	archivePath := filepath.Join(dir, "chain.archive")
	if _, err := Export(src, archivePath, CodecSnappy); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	if _, err := Import(archivePath, src); !errors.Is(err, chain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := src.Validate(); err != nil {
		t.Errorf("existing chain damaged by refused import: %v", err)
	}
}

func TestImportCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	src := newChain(t, dir, "src.dat")
	fillChain(t, src, 4)

	archivePath := filepath.Join(dir, "chain.archive")
	if _, err := Export(src, archivePath, CodecNone); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	testCases := []struct {
		name   string
		offset func(size int64) int64
		want   error
	}{
		{"body byte", func(int64) int64 { return 100 }, ErrCorruptArchive},
		{"footer byte", func(size int64) int64 { return size - 20 }, ErrInvalidFooter},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, _ := os.ReadFile(archivePath)
			data[tc.offset(int64(len(data)))] ^= 0xFF
			damaged := filepath.Join(dir, fmt.Sprintf("damaged-%d.archive", i))
			os.WriteFile(damaged, data, 0644)

			dst := newChain(t, dir, fmt.Sprintf("dst-%d.dat", i))
			if _, err := Import(damaged, dst); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			for _, path := range []string{dst.DataPath(), dst.IndexPath()} {
				if _, err := os.Stat(path); !os.IsNotExist(err) {
					t.Errorf("%s left behind by failed import", path)
				}
			}
		})
	}
}

func TestImportTruncatedArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.archive")
	os.WriteFile(path, []byte("too short"), 0644)

	if _, err := Import(path, newChain(t, dir, "dst.dat")); !errors.Is(err, ErrInvalidFooter) {
		t.Errorf("expected ErrInvalidFooter, got %v", err)
	}
}

func TestArchiveTelemetry(t *testing.T) {
	dir := t.TempDir()
	src := newChain(t, dir, "src.dat")
	fillChain(t, src, 3)

	tel := telemetry.NewForTesting()
	archivePath := filepath.Join(dir, "chain.archive")
	if _, err := Export(src, archivePath, CodecZstd, WithTelemetry(tel)); err != nil {
		t.Fatalf("Export with telemetry failed: %v", err)
	}

	exports := src.Stats().GetStats()["export_ops"]
	if exports != uint64(1) {
		t.Errorf("expected one export in stats, got %v", exports)
	}
}
