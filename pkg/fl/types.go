package fl

import "time"

const MethodFedAvg = "FedAvg"

// Contribution is one edge node's submission as declared by its metadata record.
type Contribution struct {
	NodeID              string  `json:"node_id"`
	Version             string  `json:"version"`
	SampleCount         int64   `json:"num_images"`
	EpochCount          int     `json:"epochs"`
	ArtifactLocation    string  `json:"model_path"`
	TrainedAt           string  `json:"trained_at,omitempty"`
	TrainingTimeSeconds float64 `json:"training_time_seconds,omitempty"`
}

// Update pairs a contribution with the parameters extracted from its artifact.
type Update struct {
	Contribution Contribution
	Params       ParameterMap
}

// Weight is the realized share of a contribution in the merged model.
type Weight struct {
	NodeID      string  `json:"node_id"`
	Version     string  `json:"version"`
	SampleCount int64   `json:"num_images"`
	EpochCount  int     `json:"epochs"`
	Weight      float64 `json:"weight"`
}

type SkipReason string

const (
	SkipInvalidRecord     SkipReason = "invalid_record"
	SkipMissingArtifact   SkipReason = "missing_artifact"
	SkipNonPositive       SkipReason = "non_positive_samples"
	SkipSuperseded        SkipReason = "superseded"
	SkipLoadFailed        SkipReason = "load_failed"
	SkipUnsupportedFormat SkipReason = "unsupported_format"
	SkipIncompatible      SkipReason = "incompatible"
)

// Skip records why a contribution did not take part in aggregation.
type Skip struct {
	NodeID string     `json:"node_id,omitempty"`
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// Result is the output of an Aggregator.
type Result struct {
	Params       ParameterMap
	Included     []int // input indices of the merged updates, in merge order
	Weights      []Weight
	TotalSamples int64
	Excluded     []Skip
}

// Provenance describes how an aggregated checkpoint was produced.
type Provenance struct {
	Method         string    `json:"aggregation_method"`
	AggregatedAt   time.Time `json:"aggregated_at"`
	RunID          string    `json:"run_id"`
	RunName        string    `json:"run_name,omitempty"`
	NumEdgeModels  int       `json:"num_edge_models"`
	TotalSamples   int64     `json:"total_training_samples"`
	EdgeModels     []Weight  `json:"edge_models"`
	Skipped        []Skip    `json:"skipped,omitempty"`
	Template       string    `json:"template"`
	CheckpointHash string    `json:"checkpoint_sha256"`
}

type Aggregator interface {
	Aggregate(updates []Update) (Result, error)
}
