package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedagg/pkg/checkpoint"
	"github.com/absmach/fedagg/pkg/fl"
	"github.com/absmach/fedagg/pkg/registry"
)

// Container builds a checkpoint container of the given variant around params.
func Container(variant checkpoint.Variant, params fl.ParameterMap, binaryData bool) map[string]any {
	sd := checkpoint.EncodeParameters(params, binaryData)

	switch variant {
	case checkpoint.WrappedModel:
		return map[string]any{
			"model": map[string]any{
				"state_dict": sd,
				"yaml":       "yolov8n.yaml",
				"nc":         int64(80),
			},
			"epoch":      int64(-1),
			"date":       "2024-05-01T12:00:00",
			"train_args": map[string]any{"imgsz": int64(640), "batch": int64(4)},
		}
	case checkpoint.DirectState:
		return map[string]any{
			"state_dict": sd,
			"arch":       "yolov8n",
		}
	default:
		return sd
	}
}

// WriteCheckpoint encodes a container with the codec matching path.
func WriteCheckpoint(t testing.TB, path string, variant checkpoint.Variant, params fl.ParameterMap) {
	t.Helper()

	codec := checkpoint.CodecFor(path)
	data, err := codec.Encode(Container(variant, params, codec.Binary()))
	if err != nil {
		t.Fatalf("failed to encode checkpoint: %v", err)
	}
	WriteFile(t, path, data)
}

// WriteRecord writes an edge metadata record named edge_<name>.json under
// the registry metadata directory of modelsDir.
func WriteRecord(t testing.TB, modelsDir, name string, rec registry.Record) string {
	t.Helper()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	path := filepath.Join(modelsDir, registry.MetadataDir, "edge_"+name+".json")
	WriteFile(t, path, data)

	return path
}

// Edge writes both the checkpoint and the metadata record of one edge
// contribution and returns the checkpoint path.
func Edge(t testing.TB, modelsDir, node string, samples int64, params fl.ParameterMap) string {
	t.Helper()

	ckpt := filepath.Join(modelsDir, "checkpoints", node+".pt")
	WriteCheckpoint(t, ckpt, checkpoint.WrappedModel, params)
	WriteRecord(t, modelsDir, node, registry.Record{
		NodeID:    node,
		Version:   "20240501_120000",
		NumImages: samples,
		Epochs:    20,
		ModelPath: ckpt,
	})

	return ckpt
}

// Scalar is a one-element float32 tensor.
func Scalar(v float64) fl.Tensor {
	return fl.Tensor{DType: fl.Float32, Shape: []int{1}, Data: []float64{v}}
}

func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
