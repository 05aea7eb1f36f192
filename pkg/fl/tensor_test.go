package fl_test

import (
	"math"
	"testing"

	"github.com/absmach/fedagg/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc  string
		dtype fl.DType
		shape []int
		data  []float64
		ok    bool
	}{
		{desc: "matrix", dtype: fl.Float32, shape: []int{2, 3}, data: make([]float64, 6), ok: true},
		{desc: "scalar", dtype: fl.Int64, shape: []int{}, data: []float64{4}, ok: true},
		{desc: "empty dimension", dtype: fl.Float64, shape: []int{0, 3}, data: nil, ok: true},
		{desc: "element count mismatch", dtype: fl.Float32, shape: []int{2, 2}, data: make([]float64, 3)},
		{desc: "negative dimension", dtype: fl.Float32, shape: []int{-1}, data: nil},
		{desc: "element count overflow", dtype: fl.Float32, shape: []int{math.MaxInt/2 + 1, 2}, data: nil},
		{desc: "element count wraps to zero", dtype: fl.Float32, shape: []int{1 << 31, 1 << 31, 1 << 2}, data: nil},
		{desc: "unknown dtype", dtype: "bfloat16", shape: []int{1}, data: []float64{1}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := fl.NewTensor(tc.dtype, tc.shape, tc.data)
			if tc.ok {
				assert.NoError(t, err)

				return
			}
			assert.Error(t, err)
		})
	}
}

func TestTensorCast(t *testing.T) {
	t.Parallel()

	src, err := fl.NewTensor(fl.Float64, []int{3}, []float64{1.4, 2.5, -0.6})
	require.NoError(t, err)

	ints := src.Cast(fl.Int64)
	assert.Equal(t, fl.Int64, ints.DType)
	assert.Equal(t, []float64{1, 3, -1}, ints.Data)

	half := src.Cast(fl.Float16)
	assert.Equal(t, fl.Float16, half.DType)
	assert.InDelta(t, 1.4, half.Data[0], 1e-3)
	assert.Equal(t, []float64{1.4, 2.5, -0.6}, src.Data, "cast must not modify the source")
}

func TestFloat16Arithmetic(t *testing.T) {
	t.Parallel()

	a, err := fl.NewTensor(fl.Float16, []int{1}, []float64{1})
	require.NoError(t, err)

	s := a.Scale(1.0 / 3.0)
	assert.Equal(t, fl.Float16, s.DType)
	assert.Equal(t, fl.Float16.Round(s.Data[0]), s.Data[0])
	assert.InDelta(t, 1.0/3.0, s.Data[0], 1e-3)
}

func TestParameterMapLayout(t *testing.T) {
	t.Parallel()

	a := fl.ParameterMap{
		"w": {DType: fl.Float32, Shape: []int{2}, Data: []float64{1, 2}},
		"b": {DType: fl.Float32, Shape: []int{1}, Data: []float64{0}},
	}
	b := a.Clone()
	assert.True(t, fl.Compatible(a, b))
	assert.Equal(t, []string{"b", "w"}, a.Keys())

	delete(b, "b")
	assert.False(t, fl.Compatible(a, b))
	assert.NoError(t, a.CheckLayout(b), "missing keys are not a layout conflict")

	b["w"] = fl.Tensor{DType: fl.Float64, Shape: []int{2}, Data: []float64{1, 2}}
	assert.ErrorIs(t, a.CheckLayout(b), fl.ErrIncompatibleParameters)
}
