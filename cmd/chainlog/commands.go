package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
)

func (a *app) appendCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "append [payload]",
		Short: "Append a block",
		Long: `Append a block holding the given payload. The payload is read from
--file when set, from standard input when the argument is "-" or missing,
and is the argument itself otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := a.readPayload(args, file)
			if err != nil {
				return err
			}

			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			rec, err := b.Append(cmd.Context(), payload)
			if err != nil {
				return err
			}
			return printJSON(a.out, rec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the payload from a file")
	return cmd
}

func (a *app) readPayload(args []string, file string) ([]byte, error) {
	switch {
	case file != "":
		if len(args) > 0 {
			return nil, errors.New("give either a payload argument or --file, not both")
		}
		return os.ReadFile(file)
	case len(args) == 0 || args[0] == "-":
		return io.ReadAll(a.in)
	default:
		return []byte(args[0]), nil
	}
}

func (a *app) walkCommand() *cobra.Command {
	var ndjson bool

	cmd := &cobra.Command{
		Use:   "walk",
		Short: "Print every block in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			if !ndjson {
				var records []block.Record
				for rec, err := range b.Walk(cmd.Context()) {
					if err != nil {
						return err
					}
					records = append(records, rec)
				}
				return writeRecords(a.out, records)
			}

			// One record per line, written as it is read
			enc := json.NewEncoder(a.out)
			for rec, err := range b.Walk(cmd.Context()) {
				if err != nil {
					return err
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ndjson, "ndjson", false, "Stream one JSON object per line")
	return cmd
}

func (a *app) findCommand(use, short string, byPrev bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <hash>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			find := b.FindByHash
			if byPrev {
				find = b.FindByPrevHash
			}
			rec, err := find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(a.out, rec)
		},
	}
}

// errValidationFailed is returned by validate after the report is printed
var errValidationFailed = errors.New("validation failed")

func (a *app) validateCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every hash link and the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.Validate(cmd.Context())
			// A missing chain or a transport failure has no report to show
			if errors.Is(err, chain.ErrFileNotFound) || chain.ErrorKind(err) == "io" {
				return err
			}

			if asJSON {
				if perr := printJSON(a.out, reportJSON(report, err)); perr != nil {
					return perr
				}
			} else {
				printReport(a.out, report, err)
			}
			if err != nil {
				return fmt.Errorf("%w: %s", errValidationFailed, chain.ErrorKind(err))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

type validationJSON struct {
	Valid        bool   `json:"valid"`
	Blocks       uint32 `json:"blocks"`
	DataSize     int64  `json:"data_size"`
	Head         string `json:"head,omitempty"`
	BrokenAt     uint32 `json:"broken_at,omitempty"`
	Problem      string `json:"problem,omitempty"`
	Kind         string `json:"kind,omitempty"`
	IndexChecked bool   `json:"index_checked"`
	IndexCount   uint32 `json:"index_count"`
}

func reportJSON(report chain.ValidationReport, err error) validationJSON {
	out := validationJSON{
		Valid:        report.Valid,
		Blocks:       report.Blocks,
		DataSize:     report.DataSize,
		BrokenAt:     report.BrokenAt,
		Problem:      report.Problem,
		Kind:         chain.ErrorKind(err),
		IndexChecked: report.IndexChecked,
		IndexCount:   report.IndexCount,
	}
	if report.Blocks > 0 {
		out.Head = report.Head.String()
	}
	return out
}

func (a *app) repairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the index and cut off a partial trailing block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.localOnly("repair"); err != nil {
				return err
			}
			report, err := a.chain().Repair()
			if err != nil {
				return err
			}
			printRepair(a.out, report)
			return nil
		},
	}
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Summarize the chain from its index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.localOnly("info"); err != nil {
				return err
			}
			c := a.chain()
			info, err := c.Info()
			if err != nil {
				return err
			}
			printInfo(a.out, c, info)
			return nil
		},
	}
}

func (a *app) statsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats [prefix]",
		Short: "Show operation statistics of a server",
		Long: `Show the operation statistics of the chain. Against a server this reports
everything it has served; locally it only covers this invocation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = strings.ToLower(args[0])
			}
			values, err := b.Stats(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a.out, values)
			}
			printStats(a.out, values)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw statistics as JSON")
	return cmd
}
