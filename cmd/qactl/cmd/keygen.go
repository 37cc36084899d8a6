package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantumauth-go/envelope"
	qacrypto "github.com/quantumauth-io/quantumauth-go/qa/crypto"
)

func newKeygenCmd() *cobra.Command {
	var alg string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ML-KEM key pair for envelope encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pub, priv, err := envelope.GenerateKeyPair(alg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			field(out, "algorithm", alg)
			field(out, "public", qacrypto.BytesToB64(pub))
			field(out, "private", qacrypto.BytesToB64(priv))
			return nil
		},
	}
	cmd.Flags().StringVar(&alg, "alg", envelope.AlgMLKEM768, "KEM algorithm (ML-KEM-768 or ML-KEM-1024)")
	return cmd
}
