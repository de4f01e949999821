package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.lsp.dev/uri"
	"gopkg.in/yaml.v3"
)

// Manifest file names, checked in order.
const (
	ManifestJSON = "package.json"
	ManifestYAML = "package.yaml"
)

// Descriptor describes one installed extension as seen by the host.
//
// Metadata is the extension's declared manifest as raw JSON. RootURI is the
// resource identifier of the install root (for on-disk extensions a file URI
// without a trailing slash). Descriptors are never mutated after discovery.
type Descriptor struct {
	ID       string
	RootURI  string
	Metadata json.RawMessage

	// path is the install directory for on-disk extensions, empty otherwise.
	path string
}

// NewDescriptor builds a descriptor for an extension that does not live on
// the local filesystem, such as one supplied by a browser host.
func NewDescriptor(id, rootURI string, metadata []byte) Descriptor {
	return Descriptor{
		ID:       id,
		RootURI:  rootURI,
		Metadata: append(json.RawMessage(nil), metadata...),
	}
}

// Path returns the install directory, or "" for extensions not on disk.
func (d Descriptor) Path() string {
	return d.path
}

// Get reads a value from the declared metadata using a gjson path.
func (d Descriptor) Get(path string) gjson.Result {
	return gjson.GetBytes(d.Metadata, path)
}

// Name returns the declared extension name.
func (d Descriptor) Name() string {
	return d.Get("name").String()
}

// Equal reports whether two descriptors describe the same extension state.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.ID == o.ID && d.RootURI == o.RootURI && string(d.Metadata) == string(o.Metadata)
}

// LoadManifestFromDir loads the extension rooted at dir.
// package.json takes precedence over package.yaml.
func LoadManifestFromDir(dir string) (Descriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Descriptor{}, &LoadError{Path: dir, Err: err}
	}

	metadata, err := readManifest(abs)
	if err != nil {
		return Descriptor{}, &LoadError{Path: abs, Err: err}
	}

	id, err := manifestID(metadata)
	if err != nil {
		return Descriptor{}, &LoadError{Path: abs, Err: err}
	}

	return Descriptor{
		ID:       id,
		RootURI:  string(uri.File(abs)),
		Metadata: metadata,
		path:     abs,
	}, nil
}

// readManifest returns the manifest in dir as JSON.
func readManifest(dir string) (json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestJSON))
	if err == nil {
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidManifest, ManifestJSON)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", ManifestJSON, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ManifestYAML))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("read %s: %w", ManifestYAML, err)
	}
	return yamlToJSON(data)
}

// yamlToJSON converts a YAML manifest into the JSON form consumers read.
func yamlToJSON(data []byte) (json.RawMessage, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidManifest)
	}

	out, err := json.Marshal(jsonCompatible(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return out, nil
}

// jsonCompatible rewrites maps with non-string keys, which yaml.v3 produces
// for keys such as `1:` or `true:`.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = jsonCompatible(e)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = jsonCompatible(e)
		}
		return m
	case []any:
		for i, e := range t {
			t[i] = jsonCompatible(e)
		}
		return t
	default:
		return v
	}
}

// manifestID derives the extension identifier: publisher.name when a
// publisher is declared, the bare name otherwise.
func manifestID(metadata []byte) (string, error) {
	name := strings.TrimSpace(gjson.GetBytes(metadata, "name").String())
	if name == "" {
		return "", ErrMissingName
	}
	if publisher := strings.TrimSpace(gjson.GetBytes(metadata, "publisher").String()); publisher != "" {
		return publisher + "." + name, nil
	}
	return name, nil
}
