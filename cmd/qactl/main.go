// Command qactl sends QuantumAuth-authenticated requests and inspects a local setup.
package main

import (
	"os"

	"github.com/quantumauth-io/quantumauth-go/cmd/qactl/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
