package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/extension"
	"github.com/dshills/yamlbridge/internal/fetch"
	"github.com/dshills/yamlbridge/internal/host"
	"github.com/dshills/yamlbridge/internal/lsp"
	"github.com/dshills/yamlbridge/internal/schema"
)

// Notifier sends notifications to the server.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Session is the part of *lsp.Session the router binds to.
type Session interface {
	lsp.Registrar
	Notifier
	OnReady(fn func(ctx context.Context))
}

var _ Session = (*lsp.Session)(nil)

// ErrMissingCollaborator is returned by NewRouter when a required
// collaborator is nil.
var ErrMissingCollaborator = errors.New("missing router collaborator")

// Config holds the router's collaborators.
type Config struct {
	Extensions extension.Source
	Documents  host.Documents
	Fetcher    fetch.Fetcher

	// API answers custom schema requests. A new empty API is used when nil.
	API *SchemaExtensionAPI

	Metrics *Metrics
	Logger  *zap.Logger
}

// Router serves the server's requests and keeps it informed about schema
// associations.
type Router struct {
	extensions extension.Source
	documents  host.Documents
	fetcher    fetch.Fetcher
	api        *SchemaExtensionAPI
	metrics    *Metrics
	logger     *zap.Logger

	// associations is replaced as a whole, never modified after Store.
	associations atomic.Pointer[schema.Associations]

	mu          sync.Mutex
	unsubscribe func()
}

// NewRouter creates a router.
func NewRouter(cfg Config) (*Router, error) {
	switch {
	case cfg.Extensions == nil:
		return nil, fmt.Errorf("%w: extensions", ErrMissingCollaborator)
	case cfg.Documents == nil:
		return nil, fmt.Errorf("%w: documents", ErrMissingCollaborator)
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", ErrMissingCollaborator)
	}

	r := &Router{
		extensions: cfg.Extensions,
		documents:  cfg.Documents,
		fetcher:    cfg.Fetcher,
		api:        cfg.API,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if r.api == nil {
		r.api = NewSchemaExtensionAPI()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// API returns the schema extension API the router delegates to.
func (r *Router) API() *SchemaExtensionAPI {
	return r.api
}

// Associations returns the last published associations, or nil before the
// first push.
func (r *Router) Associations() schema.Associations {
	if p := r.associations.Load(); p != nil {
		return *p
	}
	return nil
}

// Bind registers the request handlers on s and arranges for Start to run
// when s becomes ready.
func (r *Router) Bind(s Session) {
	lsp.HandleString(s, MethodCustomSchemaRequest, r.CustomSchema)
	lsp.HandleString(s, MethodCustomSchemaContent, r.CustomSchemaContent)
	lsp.HandleString(s, MethodContentRequest, r.Content)
	lsp.HandleString(s, MethodStoreContentRequest, r.StoreContent)

	s.OnReady(func(ctx context.Context) {
		if err := r.Start(ctx, s); err != nil {
			r.logger.Warn("router start incomplete", zap.Error(err))
		}
	})
}

// Start pushes the current associations, subscribes to extension changes
// and announces custom schema support, in that order. A previous
// subscription is replaced, so Start may run once per session.
func (r *Router) Start(ctx context.Context, n Notifier) error {
	r.Stop()

	pushErr := r.push(ctx, n)

	unsubscribe := r.extensions.OnDidChange(func() {
		if err := r.push(context.Background(), n); err != nil {
			r.logger.Debug("association resend failed", zap.Error(err))
		}
	})
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	var announceErr error
	if err := n.Notify(ctx, MethodRegisterCustomSchemaRequest, struct{}{}); err != nil {
		announceErr = fmt.Errorf("announce custom schema support: %w", err)
	}
	return errors.Join(pushErr, announceErr)
}

// Stop removes the extension change subscription.
func (r *Router) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// push recomputes, publishes and sends the associations.
func (r *Router) push(ctx context.Context, n Notifier) error {
	assoc := schema.Compute(r.extensions.Extensions())
	r.associations.Store(&assoc)

	err := n.Notify(ctx, MethodSchemaAssociations, assoc)
	r.metrics.push(err)
	if err != nil {
		return fmt.Errorf("push schema associations: %w", err)
	}
	r.logger.Debug("pushed schema associations", zap.Int("patterns", len(assoc)))
	return nil
}

// CustomSchema answers MethodCustomSchemaRequest.
func (r *Router) CustomSchema(ctx context.Context, resource string) (string, error) {
	schemaURI, err := r.api.RequestCustomSchema(ctx, resource)
	r.metrics.custom(MethodCustomSchemaRequest, err)
	return schemaURI, err
}

// CustomSchemaContent answers MethodCustomSchemaContent.
func (r *Router) CustomSchemaContent(ctx context.Context, uri string) (string, error) {
	content, err := r.api.RequestCustomSchemaContent(ctx, uri)
	r.metrics.custom(MethodCustomSchemaContent, err)
	return content, err
}

// Content answers MethodContentRequest. Untitled buffers are rejected,
// http and https resources are fetched, everything else is opened through
// the host.
func (r *Router) Content(ctx context.Context, resource string) (string, error) {
	switch scheme(resource) {
	case UntitledScheme:
		err := jsonrpc2.NewError(CodeResourceNotLoadable, "Unable to load "+resource)
		r.metrics.content(RouteUntitled, err)
		return "", err

	case "http", "https":
		return r.fetch(ctx, RouteNetwork, resource)

	default:
		text, err := r.documents.OpenTextDocument(ctx, resource)
		if err != nil {
			r.metrics.content(RouteDocument, err)
			return "", jsonrpc2.NewError(CodeDocumentOpenFailed, err.Error())
		}
		r.metrics.content(RouteDocument, nil)
		return text, nil
	}
}

// StoreContent answers MethodStoreContentRequest. The resource is always
// fetched.
func (r *Router) StoreContent(ctx context.Context, resource string) (string, error) {
	return r.fetch(ctx, RouteStore, resource)
}

func (r *Router) fetch(ctx context.Context, route, resource string) (string, error) {
	start := time.Now()
	text, err := r.fetcher.Fetch(ctx, resource)
	r.metrics.fetch(route, start)
	r.metrics.content(route, err)
	if err != nil {
		r.logger.Debug("fetch failed", zap.String("uri", resource), zap.Error(err))
	}
	return text, err
}

// scheme returns the lower-case scheme of resource, or "" if it has none.
func scheme(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		if i := strings.Index(resource, ":"); i > 0 {
			return strings.ToLower(resource[:i])
		}
		return ""
	}
	return u.Scheme
}
