package fl

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/x448/float16"
)

type DType string

const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int64   DType = "int64"
)

func ParseDType(s string) (DType, error) {
	switch d := DType(s); d {
	case Float16, Float32, Float64, Int64:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dtype %q", s)
	}
}

// Size returns the number of bytes a single element occupies on disk.
func (d DType) Size() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	default:
		return 8
	}
}

// working is the dtype arithmetic is carried out in. Integer tensors are
// promoted to float64 once they are scaled by a fractional weight.
func (d DType) working() DType {
	if d == Int64 {
		return Float64
	}

	return d
}

// Round rounds v to the nearest value representable in d.
func (d DType) Round(v float64) float64 {
	switch d {
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Float32:
		return float64(float32(v))
	case Int64:
		return math.Round(v)
	default:
		return v
	}
}

func (d DType) mul(v, w float64) float64 {
	switch d {
	case Float16:
		return float64(float16.Fromfloat32(float32(float32(v) * float32(w))).Float32())
	case Float32:
		return float64(float32(float32(v) * float32(w)))
	default:
		return float64(v * w)
	}
}

func (d DType) add(a, b float64) float64 {
	switch d {
	case Float16:
		return float64(float16.Fromfloat32(float32(float32(a) + float32(b))).Float32())
	case Float32:
		return float64(float32(float32(a) + float32(b)))
	default:
		return float64(a + b)
	}
}

// Tensor is a dense array of a fixed shape and dtype. Values are held as
// float64 regardless of dtype; every arithmetic result is rounded to the
// dtype's precision.
type Tensor struct {
	DType DType
	Shape []int
	Data  []float64
}

func NewTensor(dtype DType, shape []int, data []float64) (Tensor, error) {
	if _, err := ParseDType(string(dtype)); err != nil {
		return Tensor{}, err
	}
	n, err := numElements(shape)
	if err != nil {
		return Tensor{}, err
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("shape %v expects %d elements, got %d", shape, n, len(data))
	}

	return Tensor{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		n *= d
	}

	return n, nil
}

func (t Tensor) Clone() Tensor {
	return Tensor{DType: t.DType, Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// SameLayout reports whether t and o have identical dtype and shape.
func (t Tensor) SameLayout(o Tensor) bool {
	return t.DType == o.DType && slices.Equal(t.Shape, o.Shape)
}

// Scale returns a new tensor holding t*w computed at t's working precision.
func (t Tensor) Scale(w float64) Tensor {
	dt := t.DType.working()
	out := Tensor{DType: dt, Shape: slices.Clone(t.Shape), Data: make([]float64, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = dt.mul(v, w)
	}

	return out
}

// AddScaled accumulates o*w into t elementwise. The caller guarantees that
// both tensors have the same number of elements.
func (t *Tensor) AddScaled(o Tensor, w float64) {
	dt := t.DType
	for i, v := range o.Data {
		t.Data[i] = dt.add(t.Data[i], dt.mul(v, w))
	}
}

// Cast converts t to dtype, rounding every element.
func (t Tensor) Cast(dtype DType) Tensor {
	out := Tensor{DType: dtype, Shape: slices.Clone(t.Shape), Data: make([]float64, len(t.Data))}
	for i, v := range t.Data {
		out.Data[i] = dtype.Round(v)
	}

	return out
}

// ParameterMap maps stable tensor names to tensors.
type ParameterMap map[string]Tensor

// Keys returns the tensor names in lexicographic order.
func (p ParameterMap) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

func (p ParameterMap) Clone() ParameterMap {
	out := make(ParameterMap, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}

	return out
}

// CheckLayout verifies that every key shared by p and o has the same dtype
// and shape in both maps.
func (p ParameterMap) CheckLayout(o ParameterMap) error {
	for _, k := range p.Keys() {
		ot, ok := o[k]
		if !ok {
			continue
		}
		if t := p[k]; !t.SameLayout(ot) {
			return fmt.Errorf("%w: key %s has %s%v, expected %s%v", ErrIncompatibleParameters, k, ot.DType, ot.Shape, t.DType, t.Shape)
		}
	}

	return nil
}

// Compatible reports whether p and o share the same key set and layouts.
func Compatible(p, o ParameterMap) bool {
	if len(p) != len(o) {
		return false
	}
	for k := range p {
		if _, ok := o[k]; !ok {
			return false
		}
	}

	return p.CheckLayout(o) == nil
}
