package cli

import (
	"errors"

	"github.com/absmach/fedagg"
	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/aggregator/middleware"
	"github.com/absmach/fedagg/cmd/aggregate"
	"github.com/absmach/fedagg/pkg/fl"
	smqerrors "github.com/absmach/supermq/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	errUsage           = errors.New("invalid usage")
	errFailedToInspect = smqerrors.New("failed to inspect aggregation")
)

func NewInspectCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "inspect <output>",
		Short: "Inspect an aggregation",
		Long: `Print the provenance record of a completed aggregation and check that it
still matches the checkpoint on disk.

Examples:
  fedagg inspect /data/models/aggregated_global.pt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return errUsage
			}

			logger, err := aggregate.NewLogger(cmd.ErrOrStderr(), logLevel)
			if err != nil {
				logErrorCmd(*cmd, err)

				return err
			}
			svc := aggregator.NewService(fl.NewFedAvgAggregator(logger), 1, nil, nil, logger)
			svc = middleware.Logging(logger, svc)

			prov, err := svc.Inspect(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, smqerrors.Wrap(errFailedToInspect, err))

				return err
			}
			logJSONCmd(*cmd, prov)

			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", fedagg.DefaultConfig().LogLevel, "Log level")

	return cmd
}
