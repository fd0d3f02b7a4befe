package main

import (
	"github.com/spf13/cobra"

	"github.com/KevoDB/chainlog/pkg/archive"
)

func (a *app) exportCommand() *cobra.Command {
	var codecName string

	cmd := &cobra.Command{
		Use:   "export <archive>",
		Short: "Validate the chain and write it to a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.localOnly("export"); err != nil {
				return err
			}
			codec, err := archive.ParseCodec(codecName)
			if err != nil {
				return err
			}

			footer, err := archive.Export(a.chain(), args[0], codec, archive.WithLogger(a.logger))
			if err != nil {
				return err
			}
			okColor.Fprintln(a.out, "Chain exported")
			printFooter(a.out, args[0], footer)
			return nil
		},
	}
	cmd.Flags().StringVar(&codecName, "codec", archive.CodecZstd.String(), "Body compression: none, snappy or zstd")
	return cmd
}

func (a *app) importCommand() *cobra.Command {
	var inspect bool

	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Restore a chain from an archive into new data and index files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inspect {
				footer, err := archive.ReadFooter(args[0])
				if err != nil {
					return err
				}
				printFooter(a.out, args[0], footer)
				return nil
			}

			if err := a.localOnly("import"); err != nil {
				return err
			}
			c := a.chain()
			footer, err := archive.Import(args[0], c, archive.WithLogger(a.logger))
			if err != nil {
				return err
			}
			okColor.Fprintf(a.out, "Chain restored to %s\n", c.DataPath())
			printFooter(a.out, args[0], footer)
			return nil
		},
	}
	cmd.Flags().BoolVar(&inspect, "inspect", false, "Only print the archive footer")
	return cmd
}
