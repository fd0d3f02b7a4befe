package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/KevoDB/chainlog/pkg/block"
	"github.com/KevoDB/chainlog/pkg/chain"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("APPEND"),
	readline.PcItem("WALK",
		readline.PcItem("FULL"),
	),
	readline.PcItem("FIND"),
	readline.PcItem("FINDPREV"),
	readline.PcItem("VALIDATE"),
	readline.PcItem("INFO"),
)

const shellHelpText = `
Commands:
  .help                   - Show this help message
  .stats                  - Show statistics for this session
  .exit                   - Exit the shell

  APPEND text             - Append a block holding text
  WALK                    - List every block (position, hash, payload size)
  WALK FULL               - Print every block as JSON
  FIND hash               - Print the block with the given hash
  FINDPREV hash           - Print the block whose previous hash is hash
  VALIDATE                - Check every hash link and the index
  INFO                    - Summarize the chain (local files only)
`

// shell executes interactive commands against one backend
type shell struct {
	app     *app
	backend backend
	out     io.Writer
	ctx     context.Context
}

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.backend()
			if err != nil {
				return err
			}
			defer b.Close()

			sh := &shell{app: a, backend: b, out: a.out, ctx: cmd.Context()}
			return sh.run()
		},
	}
}

func (sh *shell) prompt() string {
	if sh.app.flags.Remote != "" {
		return fmt.Sprintf("chainlog@%s> ", sh.app.flags.Remote)
	}
	return fmt.Sprintf("chainlog:%s> ", filepath.Base(sh.app.cfg.DataPath))
}

func (sh *shell) run() error {
	fmt.Fprintln(sh.out, "chainlog shell. Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".chainlog_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					return nil
				}
				continue
			} else if readErr == io.EOF {
				fmt.Fprintln(sh.out, "Goodbye!")
				return nil
			}
			return readErr
		}

		if sh.execute(line) {
			return nil
		}
	}
}

// execute runs one command line and reports whether the shell should exit
func (sh *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	parts := strings.Fields(line)
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			fmt.Fprint(sh.out, shellHelpText)
		case ".exit":
			fmt.Fprintln(sh.out, "Goodbye!")
			return true
		case ".stats":
			values, err := sh.backend.Stats(sh.ctx, "")
			if err != nil {
				sh.fail(err)
				return false
			}
			printStats(sh.out, values)
		default:
			fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
		}
		return false
	}

	switch cmd {
	case "APPEND":
		// Keep the payload exactly as typed after the command word
		payload := strings.TrimSpace(line[len(parts[0]):])
		if payload == "" {
			fmt.Fprintln(sh.out, "Error: APPEND requires a payload")
			return false
		}
		rec, err := sh.backend.Append(sh.ctx, []byte(payload))
		if err != nil {
			sh.fail(err)
			return false
		}
		fmt.Fprintf(sh.out, "Block %d appended: %s\n", rec.Position, rec.Hash)

	case "WALK":
		full := len(parts) > 1 && strings.ToUpper(parts[1]) == "FULL"
		count := 0
		for rec, err := range sh.backend.Walk(sh.ctx) {
			if err != nil {
				sh.fail(err)
				break
			}
			count++
			if full {
				data, _ := json.Marshal(rec)
				fmt.Fprintln(sh.out, string(data))
				continue
			}
			fmt.Fprintf(sh.out, "%6d  %s  %d bytes\n", rec.Position, rec.Hash, rec.DataLength)
		}
		fmt.Fprintf(sh.out, "%d blocks\n", count)

	case "FIND", "FINDPREV":
		if len(parts) != 2 {
			fmt.Fprintf(sh.out, "Error: %s requires exactly one hash\n", cmd)
			return false
		}
		var rec block.Record
		var err error
		if cmd == "FIND" {
			rec, err = sh.backend.FindByHash(sh.ctx, parts[1])
		} else {
			rec, err = sh.backend.FindByPrevHash(sh.ctx, parts[1])
		}
		if err != nil {
			sh.fail(err)
			return false
		}
		printJSON(sh.out, rec)

	case "VALIDATE":
		report, err := sh.backend.Validate(sh.ctx)
		if errors.Is(err, chain.ErrFileNotFound) || chain.ErrorKind(err) == "io" {
			sh.fail(err)
			return false
		}
		printReport(sh.out, report, err)

	case "INFO":
		if err := sh.app.localOnly("INFO"); err != nil {
			sh.fail(err)
			return false
		}
		c := sh.app.chain()
		info, err := c.Info()
		if err != nil {
			sh.fail(err)
			return false
		}
		printInfo(sh.out, c, info)

	default:
		fmt.Fprintf(sh.out, "Unknown command: %s\n", parts[0])
	}
	return false
}

func (sh *shell) fail(err error) {
	failColor.Fprintf(sh.out, "Error: %v\n", err)
}
