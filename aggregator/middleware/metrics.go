package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedagg/aggregator"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ aggregator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter       metrics.Counter
	latency       metrics.Histogram
	contributions metrics.Gauge
	svc           aggregator.Service
}

// Metrics records call counts and latencies, and the number of included and
// skipped contributions of the last aggregation.
func Metrics(counter metrics.Counter, latency metrics.Histogram, contributions metrics.Gauge, svc aggregator.Service) aggregator.Service {
	return &metricsMiddleware{
		counter:       counter,
		latency:       latency,
		contributions: contributions,
		svc:           svc,
	}
}

func (mm *metricsMiddleware) Aggregate(ctx context.Context, req aggregator.Request) (aggregator.Report, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "aggregate").Add(1)
		mm.latency.With("method", "aggregate").Observe(time.Since(begin).Seconds())
	}(time.Now())

	report, err := mm.svc.Aggregate(ctx, req)
	mm.contributions.With("state", "included").Set(float64(report.Provenance.NumEdgeModels))
	mm.contributions.With("state", "skipped").Set(float64(len(report.Provenance.Skipped)))

	return report, err
}

func (mm *metricsMiddleware) Inspect(ctx context.Context, outputPath string) (fl.Provenance, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "inspect").Add(1)
		mm.latency.With("method", "inspect").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Inspect(ctx, outputPath)
}
