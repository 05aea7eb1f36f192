package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedagg/pkg/checkpoint"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/absmach/fedagg/pkg/registry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Request struct {
	ModelsDir     string
	OutputPath    string
	LatestPerNode bool
}

type Report struct {
	Provenance fl.Provenance
	Saved      checkpoint.Saved
	Published  string
}

type Service interface {
	// Aggregate merges every usable edge checkpoint found under
	// req.ModelsDir into one checkpoint written to req.OutputPath.
	Aggregate(ctx context.Context, req Request) (Report, error)
	// Inspect returns the provenance record of a completed aggregation and
	// verifies that it matches the checkpoint on disk.
	Inspect(ctx context.Context, outputPath string) (fl.Provenance, error)
}

// Publisher hands a completed aggregation over to deployment and returns a
// reference to the published artifact.
type Publisher interface {
	Publish(ctx context.Context, saved checkpoint.Saved, prov fl.Provenance) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, prov fl.Provenance) error
}

var _ Service = (*service)(nil)

type service struct {
	aggregator fl.Aggregator
	workers    int
	publisher  Publisher
	notifier   Notifier
	namegen    func() string
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds the aggregation driver. publisher and notifier are
// optional.
func NewService(aggregator fl.Aggregator, workers int, publisher Publisher, notifier Notifier, logger *slog.Logger) Service {
	return &service{
		aggregator: aggregator,
		workers:    max(workers, 1),
		publisher:  publisher,
		notifier:   notifier,
		namegen:    func() string { return namegenerator.NewGenerator().Generate() },
		logger:     logger,
		now:        time.Now,
	}
}

// loaded is the outcome of loading one registry entry: either a checkpoint
// or the reason it was skipped.
type loaded struct {
	entry registry.Entry
	ckpt  *checkpoint.Checkpoint
	skip  *fl.Skip
}

func (svc *service) Aggregate(ctx context.Context, req Request) (Report, error) {
	snap, err := registry.NewReader(req.ModelsDir, req.LatestPerNode, svc.logger).Discover(ctx)
	if err != nil {
		return Report{}, err
	}
	skipped := snap.Skipped

	results, err := svc.load(ctx, snap.Entries)
	if err != nil {
		return Report{}, err
	}

	updates := make([]fl.Update, 0, len(results))
	ckpts := make([]*checkpoint.Checkpoint, 0, len(results))
	for _, r := range results {
		if r.skip != nil {
			svc.logger.Warn("Error loading model",
				slog.String("node_id", r.skip.NodeID),
				slog.String("path", r.skip.Path),
				slog.String("reason", string(r.skip.Reason)),
				slog.String("error", r.skip.Detail),
			)
			skipped = append(skipped, *r.skip)

			continue
		}
		updates = append(updates, fl.Update{Contribution: r.entry.Contribution, Params: r.ckpt.Params})
		ckpts = append(ckpts, r.ckpt)
	}

	if len(updates) == 0 {
		return Report{Provenance: fl.Provenance{Skipped: skipped}}, fmt.Errorf("%w: all %d edge models failed to load", fl.ErrNoContributions, len(snap.Entries))
	}

	res, err := svc.aggregator.Aggregate(updates)
	skipped = append(skipped, res.Excluded...)
	if err != nil {
		return Report{Provenance: fl.Provenance{Skipped: skipped}}, err
	}

	for _, w := range res.Weights {
		svc.logger.Info("Aggregated edge model",
			slog.String("node_id", w.NodeID),
			slog.String("version", w.Version),
			slog.Int64("num_images", w.SampleCount),
			slog.Float64("weight", w.Weight),
		)
	}

	var template *checkpoint.Checkpoint
	if len(res.Included) > 0 {
		template = ckpts[res.Included[0]]
	}
	if template == nil {
		return Report{}, fl.ErrTemplateUnavailable
	}

	data, err := template.Encode(res.Params)
	if err != nil {
		return Report{}, fmt.Errorf("failed to reconstruct checkpoint: %w", err)
	}

	prov := fl.Provenance{
		Method:        fl.MethodFedAvg,
		AggregatedAt:  svc.now().UTC(),
		RunID:         uuid.NewString(),
		RunName:       svc.namegen(),
		NumEdgeModels: len(res.Weights),
		TotalSamples:  res.TotalSamples,
		EdgeModels:    res.Weights,
		Skipped:       skipped,
		Template:      template.Path,
	}

	saved, err := checkpoint.Save(req.OutputPath, data, prov)
	if err != nil {
		return Report{}, err
	}
	prov.CheckpointHash = saved.Digest

	report := Report{Provenance: prov, Saved: saved}

	if svc.publisher != nil {
		ref, err := svc.publisher.Publish(ctx, saved, prov)
		if err != nil {
			return report, fmt.Errorf("failed to publish aggregated model: %w", err)
		}
		report.Published = ref
	}

	if svc.notifier != nil {
		if err := svc.notifier.Notify(ctx, prov); err != nil {
			svc.logger.Warn("Failed to notify aggregation completion",
				slog.String("run_id", prov.RunID),
				slog.Any("error", err),
			)
		}
	}

	return report, nil
}

func (svc *service) Inspect(_ context.Context, outputPath string) (fl.Provenance, error) {
	prov, err := checkpoint.LoadProvenance(outputPath)
	if err != nil {
		return fl.Provenance{}, err
	}
	if err := checkpoint.Verify(outputPath, prov); err != nil {
		return prov, err
	}

	return prov, nil
}

// load reads every entry's checkpoint, at most svc.workers at a time. Result
// slots follow entry order regardless of completion order so aggregation
// stays deterministic.
func (svc *service) load(ctx context.Context, entries []registry.Entry) ([]loaded, error) {
	results := make([]loaded, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(svc.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = loadEntry(e)

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func loadEntry(e registry.Entry) loaded {
	c := e.Contribution

	ckpt, err := checkpoint.Load(c.ArtifactLocation)
	if err == nil {
		return loaded{entry: e, ckpt: ckpt}
	}

	reason := fl.SkipLoadFailed
	if errors.Is(err, fl.ErrUnsupportedCheckpointFormat) {
		reason = fl.SkipUnsupportedFormat
	}
	var lerr *fl.ArtifactLoadError
	if errors.As(err, &lerr) {
		lerr.NodeID = c.NodeID
	}

	return loaded{entry: e, skip: &fl.Skip{
		NodeID: c.NodeID,
		Path:   c.ArtifactLocation,
		Reason: reason,
		Detail: err.Error(),
	}}
}
