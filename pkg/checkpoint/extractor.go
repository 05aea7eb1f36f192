// Package checkpoint loads edge checkpoints into parameter maps and writes
// aggregated checkpoints back in the container layout they came in.
package checkpoint

import (
	"errors"
	"fmt"
	"os"

	"github.com/absmach/fedagg/pkg/fl"
)

const (
	keyModel     = "model"
	keyStateDict = "state_dict"
)

var errNoStateDict = errors.New("container has no state dict")

// Variant is the container layout a checkpoint presents.
type Variant uint8

const (
	Unknown Variant = iota
	// WrappedModel holds a model object under "model" that carries its own
	// "state_dict" next to training metadata such as epoch or optimizer.
	WrappedModel
	// DirectState exposes a "state_dict" at the top level.
	DirectState
	// RawMapping is a bare mapping of tensor names to tensors.
	RawMapping
)

func (v Variant) String() string {
	switch v {
	case WrappedModel:
		return "wrapped-model"
	case DirectState:
		return "direct-state"
	case RawMapping:
		return "raw-mapping"
	default:
		return "unknown"
	}
}

type rule struct {
	variant Variant
	// stateDict returns the map holding the named tensors, if the container
	// matches this variant.
	stateDict func(root map[string]any) (map[string]any, bool)
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{
		variant: WrappedModel,
		stateDict: func(root map[string]any) (map[string]any, bool) {
			model, ok := root[keyModel].(map[string]any)
			if !ok {
				return nil, false
			}
			sd, ok := model[keyStateDict].(map[string]any)

			return sd, ok
		},
	},
	{
		variant: DirectState,
		stateDict: func(root map[string]any) (map[string]any, bool) {
			sd, ok := root[keyStateDict].(map[string]any)

			return sd, ok
		},
	},
	{
		variant: RawMapping,
		stateDict: func(root map[string]any) (map[string]any, bool) {
			if len(root) == 0 {
				return nil, false
			}
			for _, v := range root {
				if !isTensor(v) {
					return nil, false
				}
			}

			return root, true
		},
	},
}

// promote brings half precision tensors to float32 so that every variant
// yields the same dtypes for the same on-disk layout.
func promote(t fl.Tensor) fl.Tensor {
	if t.DType == fl.Float16 {
		t.DType = fl.Float32
	}

	return t
}

func detect(root map[string]any) (rule, map[string]any, bool) {
	for _, r := range rules {
		if sd, ok := r.stateDict(root); ok {
			return r, sd, true
		}
	}

	return rule{}, nil, false
}

// Checkpoint is a decoded container together with its normalized parameters.
type Checkpoint struct {
	Path    string
	Codec   Codec
	Variant Variant
	Params  fl.ParameterMap

	root map[string]any
}

// Load reads the artifact at path without modifying it and extracts its
// parameters. Read and decode failures are reported as *fl.ArtifactLoadError;
// a container of unknown layout yields fl.ErrUnsupportedCheckpointFormat.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &fl.ArtifactLoadError{Path: path, Err: err}
	}

	codec := CodecFor(path)
	v, err := codec.Decode(data)
	if err != nil {
		return nil, &fl.ArtifactLoadError{Path: path, Err: fmt.Errorf("failed to decode %s container: %w", codec.Name(), err)}
	}

	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: top-level value is %T", fl.ErrUnsupportedCheckpointFormat, path, v)
	}

	r, sd, ok := detect(root)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", fl.ErrUnsupportedCheckpointFormat, path, errNoStateDict)
	}

	params := make(fl.ParameterMap, len(sd))
	for k, raw := range sd {
		t, err := decodeTensor(raw)
		if err != nil {
			return nil, &fl.ArtifactLoadError{Path: path, Err: fmt.Errorf("tensor %s: %w", k, err)}
		}
		params[k] = promote(t)
	}

	return &Checkpoint{
		Path:    path,
		Codec:   codec,
		Variant: r.variant,
		Params:  params,
		root:    root,
	}, nil
}

// Extract loads the artifact at path and returns its parameter map.
func Extract(path string) (fl.ParameterMap, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	return c.Params, nil
}
