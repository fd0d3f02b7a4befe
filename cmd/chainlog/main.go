package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KevoDB/chainlog/pkg/chain"
	"github.com/KevoDB/chainlog/pkg/client"
	"github.com/KevoDB/chainlog/pkg/common/log"
	"github.com/KevoDB/chainlog/pkg/config"
	"github.com/KevoDB/chainlog/pkg/stats"
)

const defaultDataPath = "chain.dat"

// globalFlags are shared by every command
type globalFlags struct {
	DataPath   string
	IndexPath  string
	ConfigPath string
	LogLevel   string
	Remote     string
	RemoteCA   string
	Timeout    time.Duration
	NoColor    bool
}

// app carries the state resolved from the global flags before a command runs
type app struct {
	out    io.Writer
	errOut io.Writer
	in     io.Reader

	flags     globalFlags
	cfg       *config.Config
	logger    *log.StandardLogger
	collector *stats.AtomicCollector
}

func main() {
	cmd := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "chainlog",
		Short:         "Hash-linked append-only log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.flags.DataPath, "data", "d", defaultDataPath, "Chain data file")
	flags.StringVarP(&a.flags.IndexPath, "index", "i", "", "Chain index file (default <data>.idx)")
	flags.StringVarP(&a.flags.ConfigPath, "config", "c", "", "JSON config file")
	flags.StringVar(&a.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVarP(&a.flags.Remote, "remote", "r", "", "Address of a chainlog server to use instead of local files")
	flags.StringVar(&a.flags.RemoteCA, "remote-ca", "", "CA certificate enabling TLS to the remote server")
	flags.DurationVar(&a.flags.Timeout, "timeout", 10*time.Second, "Timeout for remote requests")
	flags.BoolVar(&a.flags.NoColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		a.appendCommand(),
		a.walkCommand(),
		a.findCommand("find", "Find the block with the given hash", false),
		a.findCommand("find-prev", "Find the block whose previous hash is the given hash", true),
		a.validateCommand(),
		a.repairCommand(),
		a.infoCommand(),
		a.statsCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.serveCommand(),
		a.shellCommand(),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the logger
func (a *app) setup(cmd *cobra.Command) error {
	if a.flags.NoColor {
		color.NoColor = true
	}

	var cfg *config.Config
	if a.flags.ConfigPath != "" {
		loaded, err := config.Load(a.flags.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(a.flags.DataPath)
	}

	flags := cmd.Flags()
	cfg.Update(func(c *config.Config) {
		if flags.Changed("data") {
			c.DataPath = a.flags.DataPath
			c.IndexPath = config.DefaultIndexPath(a.flags.DataPath)
		}
		if a.flags.IndexPath != "" {
			c.IndexPath = a.flags.IndexPath
		}
		if a.flags.LogLevel != "" {
			c.LogLevel = a.flags.LogLevel
		}
		c.Telemetry.LoadFromEnv()
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	format, err := log.ParseFormat(cfg.LogFormat)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = log.NewStandardLogger(
		log.WithLevel(level),
		log.WithFormat(format),
		log.WithOutput(a.errOut),
	)
	log.SetDefaultLogger(a.logger)
	a.collector = stats.NewAtomicCollector()
	return nil
}

// chain returns the local chain described by the config
func (a *app) chain(opts ...chain.Option) *chain.Chain {
	base := []chain.Option{
		chain.WithLogger(a.logger),
		chain.WithStats(a.collector),
	}
	return chain.NewFromConfig(a.cfg, append(base, opts...)...)
}

// backend returns the remote client when --remote is set and the local
// chain otherwise
func (a *app) backend() (backend, error) {
	if a.flags.Remote == "" {
		return &localBackend{chain: a.chain()}, nil
	}

	options := client.DefaultClientOptions()
	options.Endpoint = a.flags.Remote
	options.RequestTimeout = a.flags.Timeout
	if a.flags.RemoteCA != "" {
		options.TLSEnabled = true
		options.CAFile = a.flags.RemoteCA
	}
	return client.NewClient(options)
}

// localOnly rejects commands that need direct access to the chain files
func (a *app) localOnly(name string) error {
	if a.flags.Remote != "" {
		return fmt.Errorf("%s works on local files and cannot be used with --remote", name)
	}
	return nil
}
