package cmd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/bridge"
)

func newProbeCmd(g *globalFlags) *cobra.Command {
	var bridgeURL string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether a credential holder answers on a bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			ch, closeFn, err := dialHolder(ctx, bridgeURL, bridge.WithProbeTimeout(g.timeout))
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			if !ch.ProbeAvailability(ctx) {
				fmt.Fprintln(out, errFmt("credential holder not detected"))
				return errors.New("credential holder not detected")
			}
			fmt.Fprintln(out, okFmt("credential holder available"))
			return nil
		},
	}
	cmd.Flags().StringVar(&bridgeURL, "bridge", "", "WebSocket URL of the credential holder (ws://host:port/bridge)")
	return cmd
}
