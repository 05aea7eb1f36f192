package fl

import (
	"errors"
	"fmt"
)

var (
	ErrRegistryEmpty               = errors.New("no edge metadata records found")
	ErrArtifactLoad                = errors.New("failed to load artifact")
	ErrUnsupportedCheckpointFormat = errors.New("unsupported checkpoint format")
	ErrNoContributions             = errors.New("no contributions available for aggregation")
	ErrTemplateUnavailable         = errors.New("no template checkpoint available for reconstruction")
	ErrIncompatibleParameters      = errors.New("incompatible parameter map")
	ErrOverflow                    = errors.New("sample count overflow during aggregation")
)

// ArtifactLoadError reports a single artifact that could not be read or decoded.
type ArtifactLoadError struct {
	NodeID string
	Path   string
	Err    error
}

func (e *ArtifactLoadError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s, %s: %v", ErrArtifactLoad, e.NodeID, e.Path, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", ErrArtifactLoad, e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error {
	return e.Err
}

func (e *ArtifactLoadError) Is(target error) bool {
	return target == ErrArtifactLoad
}
