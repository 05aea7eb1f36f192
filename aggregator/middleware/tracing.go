package middleware

import (
	"context"

	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ aggregator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    aggregator.Service
}

func Tracing(tracer trace.Tracer, svc aggregator.Service) aggregator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Aggregate(ctx context.Context, req aggregator.Request) (resp aggregator.Report, err error) {
	ctx, span := tm.tracer.Start(ctx, "aggregate", trace.WithAttributes(
		attribute.String("models_dir", req.ModelsDir),
		attribute.String("output", req.OutputPath),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("edge_models", resp.Provenance.NumEdgeModels),
			attribute.Int64("total_samples", resp.Provenance.TotalSamples),
			attribute.Int("skipped", len(resp.Provenance.Skipped)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return tm.svc.Aggregate(ctx, req)
}

func (tm *tracing) Inspect(ctx context.Context, outputPath string) (resp fl.Provenance, err error) {
	ctx, span := tm.tracer.Start(ctx, "inspect", trace.WithAttributes(
		attribute.String("output", outputPath),
	))
	defer span.End()

	return tm.svc.Inspect(ctx, outputPath)
}
