package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/pkg/fl"
)

var _ aggregator.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    aggregator.Service
}

func Logging(logger *slog.Logger, svc aggregator.Service) aggregator.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) Aggregate(ctx context.Context, req aggregator.Request) (resp aggregator.Report, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("models_dir", req.ModelsDir),
			slog.String("output", req.OutputPath),
			slog.Int("skipped", len(resp.Provenance.Skipped)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Error("Aggregate edge models failed", args...)

			return
		}
		args = append(args,
			slog.Group("aggregation",
				slog.String("run_id", resp.Provenance.RunID),
				slog.Int("edge_models", resp.Provenance.NumEdgeModels),
				slog.Int64("total_samples", resp.Provenance.TotalSamples),
				slog.String("sha256", resp.Saved.Digest),
			),
		)
		lm.logger.Info("Aggregate edge models completed successfully", args...)
	}(time.Now())

	return lm.svc.Aggregate(ctx, req)
}

func (lm *loggingMiddleware) Inspect(ctx context.Context, outputPath string) (resp fl.Provenance, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("output", outputPath),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Inspect aggregation failed", args...)

			return
		}
		lm.logger.Info("Inspect aggregation completed successfully", args...)
	}(time.Now())

	return lm.svc.Inspect(ctx, outputPath)
}
