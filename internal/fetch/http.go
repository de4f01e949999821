package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
)

// MaxRedirects is the number of redirects HTTPFetcher follows.
const MaxRedirects = 5

// DefaultTimeout bounds a single fetch including redirects.
const DefaultTimeout = 30 * time.Second

// HTTPFetcher fetches resources with net/http. It follows up to MaxRedirects
// redirects, asks for compressed transfer and decodes gzip and deflate
// bodies itself. It never retries.
type HTTPFetcher struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	client *http.Client
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithLogger sets the fetcher logger.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// WithTimeout sets the per-fetch timeout. Zero disables it.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithProxy sets the initial proxy and TLS strictness, as Configure does.
func WithProxy(proxy string, strictSSL bool) HTTPOption {
	return func(f *HTTPFetcher) {
		if err := f.Configure(proxy, strictSSL); err != nil {
			f.logger.Warn("ignoring invalid proxy", zap.String("proxy", proxy), zap.Error(err))
		}
	}
}

// NewHTTPFetcher creates a fetcher using the environment's proxy settings
// and strict TLS verification.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
	}
	f.client = f.newClient(http.ProxyFromEnvironment, true)

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Configure replaces the proxy and TLS verification policy. An empty proxy
// falls back to the environment (HTTP_PROXY and friends). In-flight fetches
// keep the client they started with.
func (f *HTTPFetcher) Configure(proxy string, strictSSL bool) error {
	proxyFunc := http.ProxyFromEnvironment
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("parse proxy url: %q has no scheme or host", proxy)
		}
		proxyFunc = http.ProxyURL(u)
	}

	client := f.newClient(proxyFunc, strictSSL)

	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	f.logger.Debug("http configured", zap.String("proxy", proxy), zap.Bool("strictSSL", strictSSL))
	return nil
}

func (f *HTTPFetcher) newClient(proxy func(*http.Request) (*url.URL, error), strictSSL bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy
	// Accept-Encoding is set by Fetch and decoded there.
	transport.DisableCompression = true
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !strictSSL, //nolint:gosec // user opted out with http.proxyStrictSSL=false
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) > MaxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

func (f *HTTPFetcher) currentClient() *http.Client {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", &Error{URI: uri, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	start := time.Now()
	resp, err := f.currentClient().Do(req)
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("uri", uri), zap.Error(err))
		return "", &Error{URI: uri, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, decodeErr := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)

	f.logger.Debug("fetched",
		zap.String("uri", uri),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(uri, resp, body)
	}
	if decodeErr != nil {
		return "", &Error{URI: uri, Status: resp.StatusCode, Message: decodeErr.Error(), Err: decodeErr}
	}
	return string(body), nil
}

// statusError builds the error for a non-2xx response: the body if the
// server sent one, else the status description, else the status line.
func statusError(uri string, resp *http.Response, body []byte) *Error {
	msg := string(body)
	if len(body) == 0 {
		msg = StatusDescription(resp.StatusCode)
	}
	if msg == "" {
		msg = fmt.Sprintf("%s: unexpected status %s", uri, resp.Status)
	}
	return &Error{URI: uri, Status: resp.StatusCode, Message: msg}
}

// decodeBody reads r, undoing a gzip or deflate Content-Encoding. Servers
// disagree on whether "deflate" means zlib-wrapped or raw, so both are tried.
func decodeBody(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case "deflate":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			if out, err := io.ReadAll(zr); err == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		out, err := io.ReadAll(fr)
		if err != nil {
			return nil, fmt.Errorf("decode deflate body: %w", err)
		}
		return out, nil

	default:
		return io.ReadAll(r)
	}
}
