// Package registry discovers edge metadata records and resolves them to
// checkpoint artifacts.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/absmach/fedagg/pkg/fl"
	"gopkg.in/yaml.v3"
)

const (
	MetadataDir   = "metadata"
	RecordPattern = "edge_*"
)

var (
	errMissingNodeID    = errors.New("node_id is required")
	errMissingModelPath = errors.New("model_path is required")
)

var recordExts = []string{".json", ".yaml", ".yml"}

// Record mirrors the metadata file written by the edge training job.
type Record struct {
	NodeID              string  `json:"node_id"               yaml:"node_id"`
	Version             string  `json:"version"               yaml:"version"`
	NumImages           int64   `json:"num_images"            yaml:"num_images"`
	Epochs              int     `json:"epochs"                yaml:"epochs"`
	ModelPath           string  `json:"model_path"            yaml:"model_path"`
	TrainedAt           string  `json:"trained_at"            yaml:"trained_at"`
	TrainingTimeSeconds float64 `json:"training_time_seconds" yaml:"training_time_seconds"`
}

// Entry is a usable contribution together with the record it came from.
type Entry struct {
	RecordPath   string
	Contribution fl.Contribution
}

type Snapshot struct {
	Entries []Entry
	Skipped []fl.Skip
}

type Reader struct {
	modelsDir     string
	latestPerNode bool
	logger        *slog.Logger
}

func NewReader(modelsDir string, latestPerNode bool, logger *slog.Logger) *Reader {
	return &Reader{
		modelsDir:     modelsDir,
		latestPerNode: latestPerNode,
		logger:        logger,
	}
}

// Discover enumerates metadata records in lexicographic filename order.
// Records that cannot be used are reported in Snapshot.Skipped; only a tree
// without any record at all is an error.
func (r *Reader) Discover(ctx context.Context) (Snapshot, error) {
	dir := filepath.Join(r.modelsDir, MetadataDir)

	paths, err := r.recordPaths(dir)
	if err != nil {
		return Snapshot{}, err
	}
	if len(paths) == 0 {
		return Snapshot{}, fmt.Errorf("%w in %s", fl.ErrRegistryEmpty, dir)
	}

	r.logger.Info("Found edge model records", slog.Int("count", len(paths)), slog.String("dir", dir))

	var snap Snapshot
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}

		rec, err := readRecord(path)
		if err != nil {
			snap.skip(r.logger, fl.Skip{NodeID: rec.NodeID, Path: path, Reason: fl.SkipInvalidRecord, Detail: err.Error()})

			continue
		}

		location := rec.ModelPath
		if !filepath.IsAbs(location) {
			location = filepath.Join(r.modelsDir, location)
		}
		if err := checkReadable(location); err != nil {
			snap.skip(r.logger, fl.Skip{NodeID: rec.NodeID, Path: location, Reason: fl.SkipMissingArtifact, Detail: err.Error()})

			continue
		}
		if rec.NumImages <= 0 {
			snap.skip(r.logger, fl.Skip{NodeID: rec.NodeID, Path: location, Reason: fl.SkipNonPositive})

			continue
		}

		snap.Entries = append(snap.Entries, Entry{
			RecordPath: path,
			Contribution: fl.Contribution{
				NodeID:              rec.NodeID,
				Version:             rec.Version,
				SampleCount:         rec.NumImages,
				EpochCount:          rec.Epochs,
				ArtifactLocation:    location,
				TrainedAt:           rec.TrainedAt,
				TrainingTimeSeconds: rec.TrainingTimeSeconds,
			},
		})
	}

	if r.latestPerNode {
		snap.keepLatest(r.logger)
	}

	return snap, nil
}

func (r *Reader) recordPaths(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, RecordPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata records: %w", err)
	}

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(recordExts, strings.ToLower(filepath.Ext(m))) {
			continue
		}
		if info, err := os.Stat(m); err != nil || info.IsDir() {
			continue
		}
		paths = append(paths, m)
	}
	slices.SortFunc(paths, func(a, b string) int {
		return strings.Compare(filepath.Base(a), filepath.Base(b))
	})

	return paths, nil
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &rec)
	default:
		err = yaml.Unmarshal(data, &rec)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse record: %w", err)
	}

	switch {
	case rec.NodeID == "":
		return rec, errMissingNodeID
	case rec.ModelPath == "":
		return rec, errMissingModelPath
	}

	return rec, nil
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	return nil
}

func (s *Snapshot) skip(logger *slog.Logger, sk fl.Skip) {
	args := []any{
		slog.String("node_id", sk.NodeID),
		slog.String("path", sk.Path),
		slog.String("reason", string(sk.Reason)),
	}
	if sk.Detail != "" {
		args = append(args, slog.String("error", sk.Detail))
	}
	logger.Warn("Skipping edge model", args...)

	s.Skipped = append(s.Skipped, sk)
}

// keepLatest drops every entry whose node has a record with a greater
// version. Versions are timestamps of the form 20060102_150405 so they
// compare lexicographically.
func (s *Snapshot) keepLatest(logger *slog.Logger) {
	latest := make(map[string]string, len(s.Entries))
	for _, e := range s.Entries {
		c := e.Contribution
		if v, ok := latest[c.NodeID]; !ok || c.Version > v {
			latest[c.NodeID] = c.Version
		}
	}

	kept := s.Entries[:0]
	seen := make(map[string]bool, len(latest))
	for _, e := range s.Entries {
		c := e.Contribution
		if c.Version != latest[c.NodeID] || seen[c.NodeID] {
			s.skip(logger, fl.Skip{NodeID: c.NodeID, Path: c.ArtifactLocation, Reason: fl.SkipSuperseded})

			continue
		}
		seen[c.NodeID] = true
		kept = append(kept, e)
	}
	s.Entries = kept
}
