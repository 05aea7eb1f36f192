package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/fedagg"
	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/cmd/aggregate"
	"github.com/absmach/supermq/pkg/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	errFailedToLoadConfig = errors.New("failed to load configuration")
	errFailedToStart      = errors.New("failed to start aggregation")
	errFailedToAggregate  = errors.New("failed to aggregate edge models")
)

type aggregateFlags struct {
	configPath    string
	modelsDir     string
	output        string
	workers       int
	latestPerNode bool
	ociLayout     string
	ociRepository string
	ociTag        string
}

// apply overrides cfg with the flags that were set explicitly.
func (f aggregateFlags) apply(cmd *cobra.Command, cfg *fedagg.Config) {
	flags := cmd.Flags()
	if flags.Changed("models-dir") {
		cfg.ModelsDir = f.modelsDir
	}
	if flags.Changed("output") {
		cfg.Output = f.output
	}
	if flags.Changed("workers") {
		cfg.Workers = f.workers
	}
	if flags.Changed("latest-per-node") {
		cfg.LatestPerNode = f.latestPerNode
	}
	if flags.Changed("oci-layout") {
		cfg.OCI.LayoutDir = f.ociLayout
	}
	if flags.Changed("oci-repository") {
		cfg.OCI.Repository = f.ociRepository
	}
	if flags.Changed("oci-tag") {
		cfg.OCI.Tag = f.ociTag
	}
}

func NewAggregateCmd() *cobra.Command {
	var f aggregateFlags
	def := fedagg.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate edge models",
		Long: `Combine the edge models registered under the models directory into one
global model using sample-weighted federated averaging (FedAvg).

Examples:
  # Aggregate with the default locations
  fedagg aggregate

  # Keep only the newest model of every edge node and publish to a local OCI layout
  fedagg aggregate --models-dir ./edge_trained --latest-per-node --oci-layout ./oci`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := fedagg.LoadConfig(f.configPath)
			if err != nil {
				logErrorCmd(*cmd, errors.Wrap(errFailedToLoadConfig, err))

				return err
			}
			f.apply(cmd, &cfg)

			ctx := cmd.Context()
			rt, err := aggregate.NewRuntime(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				logErrorCmd(*cmd, errors.Wrap(errFailedToStart, err))

				return err
			}
			defer func() {
				if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
					rt.Logger.Warn("Failed to shut down cleanly", slog.Any("error", err))
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", color.New(color.Bold).Sprint("FedAvg Federated Learning Aggregation"))
			logFieldCmd(*cmd, "Models directory", cfg.ModelsDir)
			logFieldCmd(*cmd, "Output path", cfg.Output)

			report, err := rt.Service.Aggregate(ctx, aggregator.Request{
				ModelsDir:     cfg.ModelsDir,
				OutputPath:    cfg.Output,
				LatestPerNode: cfg.LatestPerNode,
			})
			if err != nil {
				logErrorCmd(*cmd, errors.Wrap(errFailedToAggregate, err))

				return err
			}
			logReportCmd(*cmd, report)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to a TOML configuration file")
	flags.StringVar(&f.modelsDir, "models-dir", def.ModelsDir, "Directory holding edge models and their metadata records")
	flags.StringVarP(&f.output, "output", "o", def.Output, "Path of the aggregated checkpoint")
	flags.IntVarP(&f.workers, "workers", "w", def.Workers, "Number of checkpoints loaded in parallel")
	flags.BoolVar(&f.latestPerNode, "latest-per-node", def.LatestPerNode, "Use only the newest model version of every edge node")
	flags.StringVar(&f.ociLayout, "oci-layout", "", "Publish the result to this OCI image layout directory")
	flags.StringVar(&f.ociRepository, "oci-repository", "", "Also push the published artifact to this remote repository")
	flags.StringVar(&f.ociTag, "oci-tag", "", "Tag of the published artifact (defaults to the run name)")

	return cmd
}

func logReportCmd(cmd cobra.Command, report aggregator.Report) {
	prov := report.Provenance

	logOKCmd(cmd, "Federated aggregation complete")
	logFieldCmd(cmd, "Algorithm", "FedAvg (Federated Averaging)")
	logFieldCmd(cmd, "Run", fmt.Sprintf("%s (%s)", prov.RunName, prov.RunID))
	logFieldCmd(cmd, "Edge models combined", prov.NumEdgeModels)
	logFieldCmd(cmd, "Total training samples", prov.TotalSamples)
	for _, w := range prov.EdgeModels {
		logFieldCmd(cmd, "  "+w.NodeID, fmt.Sprintf("%d samples, weight %.4f (%.1f%%)", w.SampleCount, w.Weight, w.Weight*100))
	}
	if len(prov.Skipped) > 0 {
		logFieldCmd(cmd, "Skipped", len(prov.Skipped))
	}
	logFieldCmd(cmd, "Output model", report.Saved.CheckpointPath)
	logFieldCmd(cmd, "Metadata", report.Saved.ProvenancePath)
	if report.Published != "" {
		logFieldCmd(cmd, "Published", report.Published)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", color.New(color.Bold).Sprint("Next steps:"))
	fmt.Fprintf(out, "  1. Copy the aggregated model to production:\n       cp %s /data/models/production.pt\n", report.Saved.CheckpointPath)
	fmt.Fprintf(out, "  2. Inference deployment picks up the new model automatically\n")
	fmt.Fprintf(out, "  3. Review the run with: fedagg inspect %s\n\n", report.Saved.CheckpointPath)
}
