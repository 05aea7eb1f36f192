package main

import (
	"os"

	"github.com/absmach/fedagg/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "fedagg",
		Short:         "Federated model aggregation",
		Long:          `fedagg merges edge-trained model checkpoints into one global model with FedAvg.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(cli.NewAggregateCmd(), cli.NewInspectCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
