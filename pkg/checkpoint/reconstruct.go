package checkpoint

import (
	"fmt"
	"maps"
	"slices"

	"github.com/absmach/fedagg/pkg/fl"
)

// Reconstruct returns a copy of the template container with its parameters
// replaced by merged. Each merged tensor is cast back to the dtype the
// template stores, and keeps the template's payload representation. Template
// tensors absent from merged are carried over untouched. The template itself
// is not modified.
func (c *Checkpoint) Reconstruct(merged fl.ParameterMap) (map[string]any, error) {
	if c == nil {
		return nil, fl.ErrTemplateUnavailable
	}

	root := deepCopy(c.root).(map[string]any)
	r, sd, ok := detect(root)
	if !ok || r.variant != c.Variant {
		return nil, fmt.Errorf("%w: template %s changed layout", fl.ErrUnsupportedCheckpointFormat, c.Path)
	}

	for _, k := range slices.Sorted(maps.Keys(sd)) {
		t, ok := merged[k]
		if !ok {
			continue
		}
		orig, err := decodeTensor(sd[k])
		if err != nil {
			return nil, fmt.Errorf("template tensor %s: %w", k, err)
		}
		if !slices.Equal(orig.Shape, t.Shape) {
			return nil, fmt.Errorf("%w: key %s has shape %v, template expects %v", fl.ErrIncompatibleParameters, k, t.Shape, orig.Shape)
		}
		_, binaryData := sd[k].(map[string]any)[keyData].([]byte)
		sd[k] = EncodeTensor(t.Cast(orig.DType), binaryData)
	}

	return root, nil
}

// Encode reconstructs the container with merged parameters and serializes it
// with the template's codec.
func (c *Checkpoint) Encode(merged fl.ParameterMap) ([]byte, error) {
	root, err := c.Reconstruct(merged)
	if err != nil {
		return nil, err
	}

	data, err := c.Codec.Encode(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s container: %w", c.Codec.Name(), err)
	}

	return data, nil
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deepCopy(e)
		}

		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopy(e)
		}

		return out
	case []byte:
		return slices.Clone(x)
	default:
		return x
	}
}
