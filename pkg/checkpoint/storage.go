package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/absmach/fedagg/pkg/fl"
)

const (
	dirPermission  = 0o755
	filePermission = 0o644

	provenanceSuffix = "_metadata.json"
)

// Saved describes a published aggregation output.
type Saved struct {
	CheckpointPath string
	ProvenancePath string
	Digest         string
}

// ProvenancePath derives the provenance record location from the checkpoint
// path: /data/global.pt becomes /data/global_metadata.json.
func ProvenancePath(outputPath string) string {
	stem := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))

	return filepath.Join(filepath.Dir(outputPath), stem+provenanceSuffix)
}

// Save publishes the checkpoint and its provenance record. Any existing
// record is removed first and the new one is written last, so a provenance
// record on disk always describes the checkpoint next to it.
func Save(outputPath string, checkpoint []byte, prov fl.Provenance) (Saved, error) {
	provPath := ProvenancePath(outputPath)

	if err := os.MkdirAll(filepath.Dir(outputPath), dirPermission); err != nil {
		return Saved{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.Remove(provPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Saved{}, fmt.Errorf("failed to remove stale provenance record: %w", err)
	}

	sum := sha256.Sum256(checkpoint)
	digest := hex.EncodeToString(sum[:])

	if err := writeFileAtomic(outputPath, checkpoint); err != nil {
		return Saved{}, fmt.Errorf("failed to write checkpoint: %w", err)
	}

	prov.CheckpointHash = digest
	data, err := json.MarshalIndent(prov, "", "  ")
	if err != nil {
		return Saved{}, fmt.Errorf("failed to marshal provenance record: %w", err)
	}
	if err := writeFileAtomic(provPath, data); err != nil {
		return Saved{}, fmt.Errorf("failed to write provenance record: %w", err)
	}

	return Saved{
		CheckpointPath: outputPath,
		ProvenancePath: provPath,
		Digest:         digest,
	}, nil
}

// LoadProvenance reads the provenance record belonging to outputPath.
func LoadProvenance(outputPath string) (fl.Provenance, error) {
	data, err := os.ReadFile(ProvenancePath(outputPath))
	if err != nil {
		return fl.Provenance{}, fmt.Errorf("failed to read provenance record: %w", err)
	}

	var prov fl.Provenance
	if err := json.Unmarshal(data, &prov); err != nil {
		return fl.Provenance{}, fmt.Errorf("failed to unmarshal provenance record: %w", err)
	}

	return prov, nil
}

// Verify checks that the checkpoint at outputPath matches the digest its
// provenance record carries.
func Verify(outputPath string, prov fl.Provenance) error {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != prov.CheckpointHash {
		return fmt.Errorf("checkpoint digest %s does not match provenance digest %s", got, prov.CheckpointHash)
	}

	return nil
}

// writeFileAtomic writes to a temporary file in the target directory and
// renames it into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(filePermission); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
