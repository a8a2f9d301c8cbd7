package product

import (
	"errors"
	"fmt"
)

// ErrArtifactMissing indicates that a required processor output was not produced.
var ErrArtifactMissing = errors.New("required artifact missing")

// MissingError names the missing artifact.
type MissingError struct {
	Kind Kind
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s artifact %s not found", e.Kind, e.Path)
}

func (e *MissingError) Is(target error) bool {
	return target == ErrArtifactMissing
}
