package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrNoContributor is returned for custom schema content whose scheme has
// no registered contributor.
var ErrNoContributor = errors.New("no schema contributor")

// SchemaRequestFunc returns the schema URI for a resource, or "" when the
// contributor has no opinion.
type SchemaRequestFunc func(ctx context.Context, resource string) (string, error)

// SchemaContentFunc returns the content of a schema URI in the
// contributor's scheme.
type SchemaContentFunc func(ctx context.Context, uri string) (string, error)

type contributor struct {
	scheme         string
	requestSchema  SchemaRequestFunc
	requestContent SchemaContentFunc
}

// SchemaExtensionAPI lets other components contribute schemas that are not
// declared statically. It answers the server's custom schema requests.
type SchemaExtensionAPI struct {
	mu           sync.RWMutex
	contributors []contributor
}

// NewSchemaExtensionAPI creates an API with no contributors.
func NewSchemaExtensionAPI() *SchemaExtensionAPI {
	return &SchemaExtensionAPI{}
}

// RegisterContributor adds a contributor for scheme. It returns false if
// scheme is empty, either function is nil, or the scheme is taken.
func (a *SchemaExtensionAPI) RegisterContributor(scheme string, requestSchema SchemaRequestFunc, requestSchemaContent SchemaContentFunc) bool {
	if scheme == "" || requestSchema == nil || requestSchemaContent == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, c := range a.contributors {
		if c.scheme == scheme {
			return false
		}
	}
	a.contributors = append(a.contributors, contributor{
		scheme:         scheme,
		requestSchema:  requestSchema,
		requestContent: requestSchemaContent,
	})
	return true
}

// UnregisterContributor removes the contributor for scheme.
func (a *SchemaExtensionAPI) UnregisterContributor(scheme string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, c := range a.contributors {
		if c.scheme == scheme {
			a.contributors = append(a.contributors[:i:i], a.contributors[i+1:]...)
			return true
		}
	}
	return false
}

// Schemes returns the registered schemes in registration order.
func (a *SchemaExtensionAPI) Schemes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	schemes := make([]string, len(a.contributors))
	for i, c := range a.contributors {
		schemes[i] = c.scheme
	}
	return schemes
}

func (a *SchemaExtensionAPI) snapshot() []contributor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]contributor(nil), a.contributors...)
}

// RequestCustomSchema asks contributors in registration order and returns
// the first non-empty schema URI. It returns "" when no contributor claims
// the resource.
func (a *SchemaExtensionAPI) RequestCustomSchema(ctx context.Context, resource string) (string, error) {
	for _, c := range a.snapshot() {
		schema, err := c.requestSchema(ctx, resource)
		if err != nil {
			return "", fmt.Errorf("contributor %s: %w", c.scheme, err)
		}
		if schema != "" {
			return schema, nil
		}
	}
	return "", nil
}

// RequestCustomSchemaContent returns the content for uri from the
// contributor registered for its scheme.
func (a *SchemaExtensionAPI) RequestCustomSchemaContent(ctx context.Context, uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("%w for %q", ErrNoContributor, uri)
	}

	for _, c := range a.snapshot() {
		if strings.EqualFold(c.scheme, u.Scheme) {
			return c.requestContent(ctx, uri)
		}
	}
	return "", fmt.Errorf("%w for scheme %q", ErrNoContributor, u.Scheme)
}
