// Package cmd implements the qactl commands.
package cmd

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/log"
)

// Version is set at build time.
var Version = "0.1.0"

type globalFlags struct {
	timeout time.Duration
	noColor bool
	verbose bool
}

func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "qactl",
		Short: "QuantumAuth command-line client",
		Long: `qactl talks to QuantumAuth from a terminal.

It can resolve the auth service for the current environment, probe a
credential holder, send authenticated (optionally encrypted) requests to a
protected backend and run a development credential holder.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if g.noColor {
				color.NoColor = true
			}
			if g.verbose {
				l, err := log.New(true, log.DebugLevel)
				if err != nil {
					return err
				}
				log.SetLogger(l)
			}
			return nil
		},
	}

	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "overall deadline for the command")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newEnvCmd(),
		newKeygenCmd(),
		newProbeCmd(g),
		newRequestCmd(g),
		newHolderCmd(),
	)
	return root
}
