// Package oci packages an aggregated checkpoint and its provenance record as
// an OCI artifact, tags it in a local image layout and optionally copies it
// to a remote registry.
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/absmach/fedagg/pkg/checkpoint"
	"github.com/absmach/fedagg/pkg/fl"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	oras "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	ArtifactType        = "application/vnd.absmach.fedagg.model.v1"
	MediaTypeCheckpoint = "application/vnd.absmach.fedagg.checkpoint.v1"
	MediaTypeProvenance = "application/vnd.absmach.fedagg.provenance.v1+json"

	AnnotationRunID      = "io.absmach.fedagg.run_id"
	AnnotationEdgeModels = "io.absmach.fedagg.edge_models"

	defaultTag = "latest"
)

var errNoLayout = errors.New("OCI layout directory is required")

type Config struct {
	LayoutDir  string
	Repository string
	Tag        string
	Username   string
	Password   string
	PlainHTTP  bool
}

type Publisher struct {
	cfg Config
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.LayoutDir == "" {
		return nil, errNoLayout
	}

	return &Publisher{cfg: cfg}, nil
}

// Publish stores the checkpoint and provenance of saved as one artifact and
// returns the reference it was tagged under.
func (p *Publisher) Publish(ctx context.Context, saved checkpoint.Saved, prov fl.Provenance) (string, error) {
	if err := os.MkdirAll(p.cfg.LayoutDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create OCI layout %s: %w", p.cfg.LayoutDir, err)
	}
	store, err := oci.New(p.cfg.LayoutDir)
	if err != nil {
		return "", fmt.Errorf("failed to open OCI layout %s: %w", p.cfg.LayoutDir, err)
	}

	ckptLayer, err := pushFile(ctx, store, MediaTypeCheckpoint, saved.CheckpointPath)
	if err != nil {
		return "", err
	}
	provLayer, err := pushFile(ctx, store, MediaTypeProvenance, saved.ProvenancePath)
	if err != nil {
		return "", err
	}

	manifest, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{ckptLayer, provLayer},
		ManifestAnnotations: map[string]string{
			ocispec.AnnotationCreated:  prov.AggregatedAt.UTC().Format(time.RFC3339),
			ocispec.AnnotationRevision: saved.Digest,
			AnnotationRunID:            prov.RunID,
			AnnotationEdgeModels:       fmt.Sprint(prov.NumEdgeModels),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to pack manifest: %w", err)
	}

	tag := p.tag(prov)
	if err := store.Tag(ctx, manifest, tag); err != nil {
		return "", fmt.Errorf("failed to tag %s: %w", tag, err)
	}

	if p.cfg.Repository == "" {
		return p.cfg.LayoutDir + ":" + tag, nil
	}

	repo, err := remote.NewRepository(p.cfg.Repository)
	if err != nil {
		return "", fmt.Errorf("failed to create repository for %s: %w", p.cfg.Repository, err)
	}
	repo.PlainHTTP = p.cfg.PlainHTTP
	p.setupAuthentication(repo)

	if _, err := oras.Copy(ctx, store, tag, repo, tag, oras.DefaultCopyOptions); err != nil {
		return "", fmt.Errorf("failed to push %s to %s: %w", tag, p.cfg.Repository, err)
	}

	return p.cfg.Repository + ":" + tag, nil
}

func (p *Publisher) tag(prov fl.Provenance) string {
	for _, candidate := range []string{p.cfg.Tag, prov.RunName, prov.RunID} {
		if tag := SanitizeTag(candidate); tag != "" {
			return tag
		}
	}

	return defaultTag
}

func (p *Publisher) setupAuthentication(repo *remote.Repository) {
	if p.cfg.Username == "" && p.cfg.Password == "" {
		return
	}

	repo.Client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: p.cfg.Username,
			Password: p.cfg.Password,
		}),
	}
}

func pushFile(ctx context.Context, store *oci.Store, mediaType, path string) (ocispec.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	desc := content.NewDescriptorFromBytes(mediaType, data)
	desc.Annotations = map[string]string{ocispec.AnnotationTitle: filepath.Base(path)}

	if err := store.Push(ctx, desc, bytes.NewReader(data)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return ocispec.Descriptor{}, fmt.Errorf("failed to push %s: %w", path, err)
	}

	return desc, nil
}

// SanitizeTag reduces s to the characters allowed in an OCI tag, dropping
// control characters and path separators. Tags are capped at 128 characters
// and may not start with a dot or a hyphen.
func SanitizeTag(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}

	tag := strings.ReplaceAll(b.String(), "..", "")
	tag = strings.TrimLeft(tag, ".-")
	if len(tag) > 128 {
		tag = tag[:128]
	}

	return tag
}
