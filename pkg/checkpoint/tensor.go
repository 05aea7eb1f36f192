package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/absmach/fedagg/pkg/fl"
	"github.com/x448/float16"
)

const (
	keyDType = "dtype"
	keyShape = "shape"
	keyData  = "data"
)

var errNotNumber = errors.New("value is not a number")

// isTensor reports whether v has the shape of an encoded tensor.
func isTensor(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasDType := m[keyDType].(string)
	_, hasShape := m[keyShape].([]any)
	_, hasData := m[keyData]

	return hasDType && hasShape && hasData
}

func decodeTensor(v any) (fl.Tensor, error) {
	if !isTensor(v) {
		return fl.Tensor{}, errors.New("value is not a tensor")
	}
	m := v.(map[string]any)

	dtype, err := fl.ParseDType(m[keyDType].(string))
	if err != nil {
		return fl.Tensor{}, err
	}

	rawShape := m[keyShape].([]any)
	shape := make([]int, len(rawShape))
	for i, d := range rawShape {
		f, err := toFloat(d)
		if err != nil || f != math.Trunc(f) {
			return fl.Tensor{}, fmt.Errorf("invalid dimension %v", d)
		}
		shape[i] = int(f)
	}

	var data []float64
	switch raw := m[keyData].(type) {
	case []byte:
		data, err = decodeBytes(dtype, raw)
	case []any:
		data = make([]float64, len(raw))
		for i, e := range raw {
			if data[i], err = toFloat(e); err != nil {
				break
			}
		}
	default:
		err = fmt.Errorf("unsupported tensor data %T", raw)
	}
	if err != nil {
		return fl.Tensor{}, err
	}

	return fl.NewTensor(dtype, shape, data)
}

func decodeBytes(dtype fl.DType, raw []byte) ([]float64, error) {
	size := dtype.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of %s element size", len(raw), dtype)
	}

	data := make([]float64, len(raw)/size)
	for i := range data {
		b := raw[i*size : (i+1)*size]
		switch dtype {
		case fl.Float16:
			data[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
		case fl.Float32:
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case fl.Float64:
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case fl.Int64:
			data[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		}
	}

	return data, nil
}

// EncodeTensor renders t in the container representation. Binary tensors
// carry their payload as a little-endian byte string.
func EncodeTensor(t fl.Tensor, binaryData bool) map[string]any {
	shape := make([]any, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int64(d)
	}

	var data any
	if binaryData {
		data = encodeBytes(t)
	} else {
		values := make([]any, len(t.Data))
		for i, v := range t.Data {
			if t.DType == fl.Int64 {
				values[i] = int64(v)

				continue
			}
			values[i] = v
		}
		data = values
	}

	return map[string]any{
		keyDType: string(t.DType),
		keyShape: shape,
		keyData:  data,
	}
}

func encodeBytes(t fl.Tensor) []byte {
	size := t.DType.Size()
	out := make([]byte, len(t.Data)*size)
	for i, v := range t.Data {
		b := out[i*size : (i+1)*size]
		switch t.DType {
		case fl.Float16:
			binary.LittleEndian.PutUint16(b, float16.Fromfloat32(float32(v)).Bits())
		case fl.Float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case fl.Float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		case fl.Int64:
			binary.LittleEndian.PutUint64(b, uint64(int64(v)))
		}
	}

	return out
}

// EncodeParameters renders a parameter map as a state dict.
func EncodeParameters(params fl.ParameterMap, binaryData bool) map[string]any {
	out := make(map[string]any, len(params))
	for k, t := range params {
		out[k] = EncodeTensor(t, binaryData)
	}

	return out
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%w: %T", errNotNumber, v)
	}
}
