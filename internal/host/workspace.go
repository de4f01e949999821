package host

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.lsp.dev/uri"
)

// Documents opens documents by URI.
type Documents interface {
	// OpenTextDocument returns the full text of the document at uri.
	OpenTextDocument(ctx context.Context, uri string) (string, error)
}

var (
	// ErrNotFound is returned when a document has neither a buffer nor a
	// backing file.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedScheme is returned for URIs that are not buffers and not
	// file URIs.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

// OpenError describes a failed OpenTextDocument.
type OpenError struct {
	URI string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("cannot open %s: %v", e.URI, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Document is an open buffer.
type Document struct {
	URI     string
	Text    string
	Version int32
}

// Workspace serves documents from its buffer store first and from disk
// second.
type Workspace struct {
	root string

	mu      sync.RWMutex
	buffers map[string]Document
}

// NewWorkspace creates a workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{
		root:    abs,
		buffers: make(map[string]Document),
	}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// RootURI returns the workspace directory as a file URI.
func (w *Workspace) RootURI() string {
	return string(uri.File(w.root))
}

// AsAbsolutePath resolves rel against the workspace root. Absolute paths
// are returned cleaned.
func (w *Workspace) AsAbsolutePath(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}
	return filepath.Join(w.root, rel)
}

// SetBuffer stores text as the open content of uri and bumps its version.
func (w *Workspace) SetBuffer(docURI, text string) Document {
	w.mu.Lock()
	defer w.mu.Unlock()

	doc := w.buffers[docURI]
	doc.URI = docURI
	doc.Text = text
	doc.Version++
	w.buffers[docURI] = doc
	return doc
}

// CloseBuffer discards the buffer for uri. Returns false if none was open.
func (w *Workspace) CloseBuffer(docURI string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.buffers[docURI]; !ok {
		return false
	}
	delete(w.buffers, docURI)
	return true
}

// Buffer returns the open buffer for uri.
func (w *Workspace) Buffer(docURI string) (Document, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	doc, ok := w.buffers[docURI]
	return doc, ok
}

// Buffers returns the URIs of all open buffers, sorted.
func (w *Workspace) Buffers() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	uris := make([]string, 0, len(w.buffers))
	for u := range w.buffers {
		uris = append(uris, u)
	}
	sort.Strings(uris)
	return uris
}

// OpenTextDocument implements Documents.
func (w *Workspace) OpenTextDocument(ctx context.Context, docURI string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &OpenError{URI: docURI, Err: err}
	}

	if doc, ok := w.Buffer(docURI); ok {
		return doc.Text, nil
	}

	u, err := url.Parse(docURI)
	if err != nil {
		return "", &OpenError{URI: docURI, Err: err}
	}

	switch u.Scheme {
	case uri.FileScheme:
		data, err := os.ReadFile(uri.URI(docURI).Filename())
		if err != nil {
			if os.IsNotExist(err) {
				err = ErrNotFound
			}
			return "", &OpenError{URI: docURI, Err: err}
		}
		return string(data), nil
	case "untitled":
		return "", &OpenError{URI: docURI, Err: ErrNotFound}
	default:
		return "", &OpenError{URI: docURI, Err: fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)}
	}
}
