// Package fetch retrieves schema resources over the network.
//
// Two strategies implement Fetcher: HTTPFetcher for the process runtime and
// BrowserFetcher (js/wasm only) for the browser runtime, which may use
// nothing but the platform fetch primitive. Callers never branch on which
// one is active.
package fetch

import (
	"context"
	"errors"
)

// Fetcher retrieves the text at a URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) (string, error)

// Fetch calls f(ctx, uri).
func (f FetcherFunc) Fetch(ctx context.Context, uri string) (string, error) {
	return f(ctx, uri)
}

// ErrTooManyRedirects is wrapped by fetch errors caused by a redirect chain
// longer than MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Error is a failed fetch. Message is human readable and is what the
// language server receives.
type Error struct {
	URI     string
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}
