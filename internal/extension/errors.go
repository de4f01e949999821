package extension

import (
	"errors"
	"fmt"
)

// Extension discovery errors.
var (
	// ErrNoManifest is returned when a directory has no package.json or package.yaml.
	ErrNoManifest = errors.New("extension has no manifest")

	// ErrInvalidManifest is returned when a manifest cannot be parsed.
	ErrInvalidManifest = errors.New("invalid extension manifest")

	// ErrMissingName is returned when a manifest does not declare a name.
	ErrMissingName = errors.New("manifest: name is required")
)

// LoadError reports a failure to load the extension at Path.
type LoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("load extension %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
