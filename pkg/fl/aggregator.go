package fl

import (
	"log/slog"
	"math"
)

type FedAvgAggregator struct {
	logger *slog.Logger
}

func NewFedAvgAggregator(logger *slog.Logger) Aggregator {
	return &FedAvgAggregator{logger: logger}
}

// Aggregate merges updates in the order given. Contributions with a
// non-positive sample count, or whose tensors disagree in dtype or shape with
// the first usable contribution, are excluded before weights are computed so
// the realized weights always sum to one over what is merged.
func (f *FedAvgAggregator) Aggregate(updates []Update) (Result, error) {
	var (
		base     ParameterMap
		included = make([]Update, 0, len(updates))
		indices  = make([]int, 0, len(updates))
		excluded []Skip
	)

	for idx, u := range updates {
		c := u.Contribution
		if c.SampleCount <= 0 {
			f.logger.Warn("Excluding contribution without samples",
				slog.String("node_id", c.NodeID),
				slog.Int64("num_images", c.SampleCount),
			)
			excluded = append(excluded, Skip{NodeID: c.NodeID, Path: c.ArtifactLocation, Reason: SkipNonPositive})

			continue
		}
		if base == nil {
			base = u.Params
		} else if err := base.CheckLayout(u.Params); err != nil {
			f.logger.Warn("Excluding incompatible contribution",
				slog.String("node_id", c.NodeID),
				slog.Any("error", err),
			)
			excluded = append(excluded, Skip{NodeID: c.NodeID, Path: c.ArtifactLocation, Reason: SkipIncompatible, Detail: err.Error()})

			continue
		}
		included = append(included, u)
		indices = append(indices, idx)
	}

	if len(included) == 0 {
		return Result{Excluded: excluded}, ErrNoContributions
	}

	var totalSamples int64
	for _, u := range included {
		n := u.Contribution.SampleCount
		if totalSamples > math.MaxInt64-n {
			return Result{Excluded: excluded}, ErrOverflow
		}
		totalSamples += n
	}

	var (
		merged  ParameterMap
		weights = make([]Weight, 0, len(included))
	)
	for i, u := range included {
		c := u.Contribution
		weight := float64(c.SampleCount) / float64(totalSamples)
		weights = append(weights, Weight{
			NodeID:      c.NodeID,
			Version:     c.Version,
			SampleCount: c.SampleCount,
			EpochCount:  c.EpochCount,
			Weight:      weight,
		})

		if i == 0 {
			merged = make(ParameterMap, len(u.Params))
			for k, t := range u.Params {
				merged[k] = t.Scale(weight)
			}

			continue
		}

		for _, k := range u.Params.Keys() {
			acc, ok := merged[k]
			if !ok {
				f.logger.Warn("Key not found in previous models",
					slog.String("node_id", c.NodeID),
					slog.String("key", k),
				)

				continue
			}
			acc.AddScaled(u.Params[k], weight)
		}
	}

	return Result{
		Params:       merged,
		Included:     indices,
		Weights:      weights,
		TotalSamples: totalSamples,
		Excluded:     excluded,
	}, nil
}
