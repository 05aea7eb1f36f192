package checkpoint_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedagg/pkg/checkpoint"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/absmach/fedagg/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleParams() fl.ParameterMap {
	return fl.ParameterMap{
		"model.0.conv.weight":              {DType: fl.Float32, Shape: []int{2, 2}, Data: []float64{0.5, -1, 2, 0.25}},
		"model.0.bn.running_mean":          {DType: fl.Float64, Shape: []int{2}, Data: []float64{0.1, 0.2}},
		"model.0.bn.num_batches_tracked":   {DType: fl.Int64, Shape: []int{}, Data: []float64{42}},
		"model.22.dfl.conv.weight.float16": {DType: fl.Float16, Shape: []int{1}, Data: []float64{1.5}},
	}
}

func TestLoadVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc    string
		file    string
		variant checkpoint.Variant
	}{
		{desc: "wrapped model cbor", file: "wrapped.pt", variant: checkpoint.WrappedModel},
		{desc: "direct state cbor", file: "direct.pt", variant: checkpoint.DirectState},
		{desc: "raw mapping cbor", file: "raw.ckpt", variant: checkpoint.RawMapping},
		{desc: "wrapped model json", file: "wrapped.json", variant: checkpoint.WrappedModel},
		{desc: "direct state json", file: "direct.json", variant: checkpoint.DirectState},
		{desc: "raw mapping json", file: "raw.json", variant: checkpoint.RawMapping},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), tc.file)
			testutil.WriteCheckpoint(t, path, tc.variant, sampleParams())

			c, err := checkpoint.Load(path)
			require.NoError(t, err)
			assert.Equal(t, tc.variant, c.Variant)

			want := sampleParams()
			require.Len(t, c.Params, len(want))
			for k, w := range want {
				got := c.Params[k]
				assert.Equal(t, w.Shape, got.Shape, k)
				assert.InDeltaSlice(t, w.Data, got.Data, 1e-6, k)
			}

			half := c.Params["model.22.dfl.conv.weight.float16"].DType
			assert.Equal(t, fl.Float32, half, "half precision is promoted to float32")
			assert.Equal(t, fl.Int64, c.Params["model.0.bn.num_batches_tracked"].DType)
		})
	}
}

func TestLoadFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	notMap, err := checkpoint.CBOR.Encode(map[string]any{"epoch": int64(3), "optimizer": "sgd"})
	require.NoError(t, err)
	badTensor, err := checkpoint.CBOR.Encode(map[string]any{
		"state_dict": map[string]any{
			"w": map[string]any{"dtype": "float32", "shape": []any{int64(3)}, "data": []byte{0, 0, 0, 0}},
		},
	})
	require.NoError(t, err)

	testutil.WriteFile(t, filepath.Join(dir, "corrupt.pt"), []byte{0xff, 0x00, 0x13})
	testutil.WriteFile(t, filepath.Join(dir, "list.json"), []byte(`[1, 2, 3]`))
	testutil.WriteFile(t, filepath.Join(dir, "nostate.pt"), notMap)
	testutil.WriteFile(t, filepath.Join(dir, "badtensor.pt"), badTensor)

	cases := []struct {
		desc string
		file string
		err  error
	}{
		{desc: "missing file", file: "absent.pt", err: fl.ErrArtifactLoad},
		{desc: "corrupt container", file: "corrupt.pt", err: fl.ErrArtifactLoad},
		{desc: "top level list", file: "list.json", err: fl.ErrUnsupportedCheckpointFormat},
		{desc: "no state dict", file: "nostate.pt", err: fl.ErrUnsupportedCheckpointFormat},
		{desc: "tensor size mismatch", file: "badtensor.pt", err: fl.ErrArtifactLoad},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := checkpoint.Extract(filepath.Join(dir, tc.file))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLoadDoesNotModifyArtifact(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "edge.pt")
	testutil.WriteCheckpoint(t, path, checkpoint.WrappedModel, sampleParams())
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	c, err := checkpoint.Load(path)
	require.NoError(t, err)
	_, err = c.Encode(c.Params)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before, after))
}

func TestReconstructPreservesTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "template.pt")
	testutil.WriteCheckpoint(t, path, checkpoint.WrappedModel, sampleParams())

	tmpl, err := checkpoint.Load(path)
	require.NoError(t, err)

	merged := tmpl.Params.Clone()
	merged["model.0.conv.weight"] = fl.Tensor{DType: fl.Float32, Shape: []int{2, 2}, Data: []float64{1, 1, 1, 1}}
	merged["model.0.bn.num_batches_tracked"] = fl.Tensor{DType: fl.Float64, Shape: []int{}, Data: []float64{41.6}}
	merged["model.22.dfl.conv.weight.float16"] = fl.Tensor{DType: fl.Float32, Shape: []int{1}, Data: []float64{0.3333333}}

	data, err := tmpl.Encode(merged)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "global.pt")
	testutil.WriteFile(t, out, data)
	got, err := checkpoint.Load(out)
	require.NoError(t, err)

	assert.Equal(t, checkpoint.WrappedModel, got.Variant)
	assert.Equal(t, []float64{1, 1, 1, 1}, got.Params["model.0.conv.weight"].Data)
	assert.Equal(t, []float64{42}, got.Params["model.0.bn.num_batches_tracked"].Data)
	assert.Equal(t, fl.Int64, got.Params["model.0.bn.num_batches_tracked"].DType)
	assert.InDelta(t, 0.3333, got.Params["model.22.dfl.conv.weight.float16"].Data[0], 1e-3)
	assert.Equal(t, fl.Float16.Round(0.3333333), got.Params["model.22.dfl.conv.weight.float16"].Data[0], "stored back in half precision")

	// Template parameters are untouched by reconstruction.
	assert.Equal(t, []float64{0.5, -1, 2, 0.25}, tmpl.Params["model.0.conv.weight"].Data)
	again, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Params["model.0.conv.weight"].Data, again.Params["model.0.conv.weight"].Data)
}

func TestReconstructRejectsShapeChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "template.pt")
	testutil.WriteCheckpoint(t, path, checkpoint.RawMapping, sampleParams())
	tmpl, err := checkpoint.Load(path)
	require.NoError(t, err)

	_, err = tmpl.Reconstruct(fl.ParameterMap{
		"model.0.conv.weight": {DType: fl.Float32, Shape: []int{4}, Data: []float64{1, 2, 3, 4}},
	})
	assert.ErrorIs(t, err, fl.ErrIncompatibleParameters)
}

func TestReconstructWithoutTemplate(t *testing.T) {
	t.Parallel()

	var tmpl *checkpoint.Checkpoint
	_, err := tmpl.Encode(fl.ParameterMap{})
	assert.ErrorIs(t, err, fl.ErrTemplateUnavailable)
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "template.pt")
	testutil.WriteCheckpoint(t, path, checkpoint.DirectState, sampleParams())

	first, err := checkpoint.Load(path)
	require.NoError(t, err)
	second, err := checkpoint.Load(path)
	require.NoError(t, err)

	a, err := first.Encode(first.Params)
	require.NoError(t, err)
	b, err := second.Encode(second.Params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
