package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/KevoDB/chainlog/pkg/archive"
	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
)

var (
	okColor    = color.New(color.FgGreen, color.Bold)
	failColor  = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	labelColor = color.New(color.FgCyan)
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printField(w io.Writer, label string, format string, args ...interface{}) {
	labelColor.Fprintf(w, "  %-18s", label+":")
	fmt.Fprintf(w, format+"\n", args...)
}

func formatTimestamp(ts uint32) string {
	t := time.Unix(int64(ts), 0)
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.Time(t))
}

func printReport(w io.Writer, report chain.ValidationReport, err error) {
	if report.Valid {
		okColor.Fprintln(w, "Chain is valid")
	} else {
		failColor.Fprintln(w, "Chain is broken")
	}

	printField(w, "Blocks checked", "%s", humanize.Comma(int64(report.Blocks)))
	printField(w, "Data size", "%s", humanize.IBytes(uint64(report.DataSize)))
	if report.Blocks > 0 {
		printField(w, "Head", "%s", report.Head)
	}
	if report.IndexChecked {
		printField(w, "Index records", "%s", humanize.Comma(int64(report.IndexCount)))
	} else {
		warnColor.Fprintln(w, "  index not checked")
	}

	if !report.Valid {
		if report.BrokenAt > 0 {
			printField(w, "Broken at block", "%d", report.BrokenAt)
		}
		problem := report.Problem
		if problem == "" && err != nil {
			problem = err.Error()
		}
		printField(w, "Problem", "%s", failColor.Sprint(problem))
	}
}

func printRepair(w io.Writer, report chain.RepairReport) {
	if report.Removed {
		warnColor.Fprintln(w, "No complete block survived; chain files removed")
		if report.TruncatedBytes > 0 {
			printField(w, "Discarded", "%s", humanize.IBytes(uint64(report.TruncatedBytes)))
		}
		return
	}

	okColor.Fprintln(w, "Index rebuilt")
	printField(w, "Blocks indexed", "%s", humanize.Comma(int64(report.Blocks)))
	if report.IndexWasReadable {
		printField(w, "Previous count", "%s", humanize.Comma(int64(report.PreviousCount)))
	} else {
		printField(w, "Previous count", "%s", warnColor.Sprint("unreadable"))
	}
	if report.TruncatedBytes > 0 {
		printField(w, "Truncated", "%s", warnColor.Sprint(humanize.IBytes(uint64(report.TruncatedBytes))))
	}
}

func printInfo(w io.Writer, c *chain.Chain, info chain.Info) {
	printField(w, "Data file", "%s", c.DataPath())
	printField(w, "Index file", "%s", c.IndexPath())
	printField(w, "Blocks", "%s", humanize.Comma(int64(info.Blocks)))
	printField(w, "Data size", "%s", humanize.IBytes(uint64(info.DataSize)))
	printField(w, "Index size", "%s", humanize.IBytes(uint64(info.IndexSize)))
	printField(w, "Head", "%s", info.Head)
	printField(w, "Genesis time", "%s", formatTimestamp(info.GenesisTimestamp))
	printField(w, "Head time", "%s", formatTimestamp(info.HeadTimestamp))
}

func printFooter(w io.Writer, path string, footer *archive.Footer) {
	printField(w, "Archive", "%s", path)
	printField(w, "Codec", "%s", footer.Codec)
	printField(w, "Blocks", "%s", humanize.Comma(int64(footer.Blocks)))
	printField(w, "Raw size", "%s", humanize.IBytes(footer.RawSize))
	printField(w, "Stored size", "%s", humanize.IBytes(footer.CompressedSize))
	if footer.RawSize > 0 {
		printField(w, "Ratio", "%.1f%%", float64(footer.CompressedSize)*100/float64(footer.RawSize))
	}
	printField(w, "Head", "%s", footer.Head)
}

// toUint64 reads a counter from a stats map. Local stats hold uint64 values,
// remote ones arrive as JSON numbers.
func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

var statsOps = []string{"append", "walk", "find_hash", "find_prev_hash", "validate", "repair", "export", "import"}

func printStats(w io.Writer, values map[string]interface{}) {
	fmt.Fprintln(w, "Operations:")
	for _, op := range statsOps {
		count := toUint64(values[op+"_ops"])
		line := fmt.Sprintf("  • %-15s %s", op, humanize.Comma(int64(count)))
		if latency, ok := values[op+"_latency"].(map[string]interface{}); ok {
			avg := time.Duration(toUint64(latency["avg_ns"]))
			line += fmt.Sprintf(" (avg %s)", avg)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintln(w, "\nChain:")
	fmt.Fprintf(w, "  • Length: %s blocks\n", humanize.Comma(int64(toUint64(values["chain_length"]))))
	fmt.Fprintf(w, "  • Read: %s\n", humanize.IBytes(toUint64(values["total_bytes_read"])))
	fmt.Fprintf(w, "  • Written: %s\n", humanize.IBytes(toUint64(values["total_bytes_written"])))
	fmt.Fprintf(w, "  • Validations: %d passed, %d failed\n",
		toUint64(values["validations_passed"]), toUint64(values["validations_failed"]))

	errs := errorCounts(values["errors"])
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nErrors:")
	kinds := make([]string, 0, len(errs))
	for kind := range errs {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "  • %s: %d\n", kind, errs[kind])
	}
}

func errorCounts(v interface{}) map[string]uint64 {
	switch m := v.(type) {
	case map[string]uint64:
		return m
	case map[string]interface{}:
		out := make(map[string]uint64, len(m))
		for k, n := range m {
			out[k] = toUint64(n)
		}
		return out
	default:
		return nil
	}
}

func writeRecords(w io.Writer, records []block.Record) error {
	if records == nil {
		records = []block.Record{}
	}
	return printJSON(w, records)
}
