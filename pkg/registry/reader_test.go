package registry_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fedagg/pkg/fl"
	"github.com/absmach/fedagg/pkg/registry"
	"github.com/absmach/fedagg/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func artifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, "checkpoints", name)
	testutil.WriteFile(t, path, []byte("checkpoint"))

	return path
}

func TestDiscoverEmptyRegistry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, registry.MetadataDir), 0o755))
	testutil.WriteFile(t, filepath.Join(dir, registry.MetadataDir, "latest_metadata.json"), []byte(`{}`))

	_, err := registry.NewReader(dir, false, logger).Discover(context.Background())
	assert.ErrorIs(t, err, fl.ErrRegistryEmpty)
}

func TestDiscoverMissingMetadataDir(t *testing.T) {
	t.Parallel()

	_, err := registry.NewReader(t.TempDir(), false, logger).Discover(context.Background())
	assert.ErrorIs(t, err, fl.ErrRegistryEmpty)
}

func TestDiscoverOrderAndResolution(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := artifact(t, dir, "a.pt")
	artifact(t, dir, "b.pt")

	testutil.WriteRecord(t, dir, "node-b", registry.Record{NodeID: "node-b", Version: "2", NumImages: 30, Epochs: 3, ModelPath: "checkpoints/b.pt"})
	testutil.WriteRecord(t, dir, "node-a", registry.Record{NodeID: "node-a", Version: "1", NumImages: 10, Epochs: 5, ModelPath: a, TrainingTimeSeconds: 12.5})
	testutil.WriteFile(t, filepath.Join(dir, registry.MetadataDir, "edge_node-c.yaml"), []byte(
		"node_id: node-c\nversion: \"3\"\nnum_images: 20\nepochs: 1\nmodel_path: checkpoints/a.pt\n",
	))

	snap, err := registry.NewReader(dir, false, logger).Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Skipped)

	require.Len(t, snap.Entries, 3)
	var nodes []string
	for _, e := range snap.Entries {
		nodes = append(nodes, e.Contribution.NodeID)
	}
	assert.Equal(t, []string{"node-a", "node-b", "node-c"}, nodes)

	first := snap.Entries[0].Contribution
	assert.Equal(t, int64(10), first.SampleCount)
	assert.Equal(t, 5, first.EpochCount)
	assert.Equal(t, a, first.ArtifactLocation)
	assert.InDelta(t, 12.5, first.TrainingTimeSeconds, 1e-9)
	assert.Equal(t, filepath.Join(dir, "checkpoints", "b.pt"), snap.Entries[1].Contribution.ArtifactLocation)
}

func TestDiscoverSkipsUnusableRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := artifact(t, dir, "good.pt")

	testutil.WriteRecord(t, dir, "1-good", registry.Record{NodeID: "good", Version: "1", NumImages: 10, ModelPath: good})
	testutil.WriteRecord(t, dir, "2-missing", registry.Record{NodeID: "missing", Version: "1", NumImages: 10, ModelPath: filepath.Join(dir, "nope.pt")})
	testutil.WriteRecord(t, dir, "3-zero", registry.Record{NodeID: "zero", Version: "1", NumImages: 0, ModelPath: good})
	testutil.WriteRecord(t, dir, "4-nopath", registry.Record{NodeID: "nopath", Version: "1", NumImages: 10})
	testutil.WriteFile(t, filepath.Join(dir, registry.MetadataDir, "edge_5-broken.json"), []byte(`{"node_id":`))

	snap, err := registry.NewReader(dir, false, logger).Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "good", snap.Entries[0].Contribution.NodeID)

	reasons := map[string]fl.SkipReason{}
	for _, s := range snap.Skipped {
		reasons[s.NodeID] = s.Reason
	}
	assert.Equal(t, fl.SkipMissingArtifact, reasons["missing"])
	assert.Equal(t, fl.SkipNonPositive, reasons["zero"])
	assert.Equal(t, fl.SkipInvalidRecord, reasons["nopath"])
	assert.Len(t, snap.Skipped, 4)
}

func TestDiscoverLatestPerNode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := artifact(t, dir, "m.pt")

	testutil.WriteRecord(t, dir, "a_20240101", registry.Record{NodeID: "a", Version: "20240101_000000", NumImages: 10, ModelPath: p})
	testutil.WriteRecord(t, dir, "a_20240301", registry.Record{NodeID: "a", Version: "20240301_000000", NumImages: 20, ModelPath: p})
	testutil.WriteRecord(t, dir, "b_20240201", registry.Record{NodeID: "b", Version: "20240201_000000", NumImages: 30, ModelPath: p})

	all, err := registry.NewReader(dir, false, logger).Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, all.Entries, 3)

	latest, err := registry.NewReader(dir, true, logger).Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, latest.Entries, 2)
	assert.Equal(t, "20240301_000000", latest.Entries[0].Contribution.Version)
	assert.Equal(t, "b", latest.Entries[1].Contribution.NodeID)
	require.Len(t, latest.Skipped, 1)
	assert.Equal(t, fl.SkipSuperseded, latest.Skipped[0].Reason)
}

func TestDiscoverCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteRecord(t, dir, "a", registry.Record{NodeID: "a", NumImages: 1, ModelPath: artifact(t, dir, "a.pt")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := registry.NewReader(dir, false, logger).Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
