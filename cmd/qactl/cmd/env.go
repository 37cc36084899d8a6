package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/config"
	"github.com/quantumauth-io/quantumauth-go/qa/urls"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the auth service selected by QA_ENV and QUANTUMAUTH_SERVER_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			serverURL, env, err := config.ResolveServerURL()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			field(out, "environment", env)
			field(out, "server", serverURL)
			field(out, "verify", urls.Join(serverURL, config.DefaultVerificationPath))
			field(out, "client", urls.Join(config.DefaultClientURL, config.DefaultChallengePath))
			return nil
		},
	}
}
