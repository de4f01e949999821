package extension

import (
	"os"
	"path/filepath"
)

// Loader discovers extensions from the filesystem.
type Loader struct {
	// Search paths (checked in order)
	paths []string

	// Errors from the last discovery, keyed by directory
	errors map[string]error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the extension search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// NewLoader creates a new extension loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:  DefaultPaths(),
		errors: make(map[string]error),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// DefaultPaths returns the default extension search paths.
func DefaultPaths() []string {
	paths := make([]string, 0, 2)

	// User extensions: ~/.config/yamlbridge/extensions/
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "yamlbridge", "extensions"))
	}

	// Project extensions: .yamlbridge/extensions/
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".yamlbridge", "extensions"))
	}

	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds all extensions in the search paths.
//
// The result order is deterministic: search paths in configuration order,
// directories within a path in lexical order. When two directories declare
// the same extension ID the first one wins. Directories that fail to load
// are skipped and reported by Errors.
func (l *Loader) Discover() []Descriptor {
	l.errors = make(map[string]error)

	var found []Descriptor
	seen := make(map[string]bool)

	for _, basePath := range l.paths {
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if !os.IsNotExist(err) {
				l.errors[basePath] = err
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			dir := filepath.Join(basePath, entry.Name())
			desc, err := LoadManifestFromDir(dir)
			if err != nil {
				l.errors[dir] = err
				continue
			}

			if seen[desc.ID] {
				continue
			}
			seen[desc.ID] = true
			found = append(found, desc)
		}
	}

	return found
}

// Errors returns the failures from the last Discover call.
func (l *Loader) Errors() map[string]error {
	errs := make(map[string]error, len(l.errors))
	for k, v := range l.errors {
		errs[k] = v
	}
	return errs
}
