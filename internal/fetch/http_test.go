package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFetcher(t *testing.T) *HTTPFetcher {
	return NewHTTPFetcher(WithLogger(zaptest.NewLogger(t)))
}

func TestHTTPFetcher_OK(t *testing.T) {
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		fmt.Fprint(w, `{"type":"object"}`)
	}))
	defer srv.Close()

	text, err := newTestFetcher(t).Fetch(context.Background(), srv.URL+"/s.json")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"object"}`, text)
	assert.Equal(t, "gzip, deflate", gotEncoding)
}

func TestHTTPFetcher_Compressed(t *testing.T) {
	const payload = `{"$schema":"http://json-schema.org/draft-07/schema#"}`

	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
		"deflate-zlib": func(b []byte) []byte {
			var buf bytes.Buffer
			w := zlib.NewWriter(&buf)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
		"deflate-raw": func(b []byte) []byte {
			var buf bytes.Buffer
			w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
			w.Write(b)
			w.Close()
			return buf.Bytes()
		},
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			header := "gzip"
			if name != "gzip" {
				header = "deflate"
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", header)
				w.Write(encode([]byte(payload)))
			}))
			defer srv.Close()

			text, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, payload, text)
		})
	}
}

func TestHTTPFetcher_ErrorMessagePreference(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"body wins", http.StatusNotFound, "no such schema", "no such schema"},
		{"body kept verbatim", http.StatusBadGateway, "  upstream down\n", "  upstream down\n"},
		{"whitespace body still wins", http.StatusNotFound, " \n", " \n"},
		{"status description", http.StatusNotFound, "", StatusDescription(404)},
		{"unknown status", 418, "", "HTTP status code 418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestFetcher(t).Fetch(context.Background(), srv.URL)
			require.Error(t, err)

			var fetchErr *Error
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, tt.status, fetchErr.Status)
			assert.Equal(t, tt.want, fetchErr.Error())
		})
	}
}

func TestHTTPFetcher_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestFetcher(t).Fetch(context.Background(), addr)
	require.Error(t, err)

	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Zero(t, fetchErr.Status)
	assert.NotEmpty(t, fetchErr.Message)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestHTTPFetcher_RedirectCap(t *testing.T) {
	var hits int
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		var n int
		fmt.Sscanf(r.URL.Path, "/r/%d", &n)
		if n == 0 {
			fmt.Fprint(w, "done")
			return
		}
		http.Redirect(w, r, fmt.Sprintf("%s/r/%d", srv.URL, n-1), http.StatusFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t)

	text, err := f.Fetch(context.Background(), srv.URL+"/r/5")
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	hits = 0
	_, err = f.Fetch(context.Background(), srv.URL+"/r/6")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Equal(t, MaxRedirects+1, hits)
}

func TestHTTPFetcher_Configure(t *testing.T) {
	proxied := false
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = true
		fmt.Fprint(w, "via proxy")
	}))
	defer proxy.Close()

	f := newTestFetcher(t)
	require.NoError(t, f.Configure(proxy.URL, true))

	text, err := f.Fetch(context.Background(), "http://schemas.invalid/a.json")
	require.NoError(t, err)
	assert.True(t, proxied)
	assert.Equal(t, "via proxy", text)

	assert.Error(t, f.Configure("not a url", true))
}

func TestHTTPFetcher_StrictSSL(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer srv.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err, "self-signed certificate must be rejected by default")

	require.NoError(t, f.Configure("", false))
	text, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "secure", text)
}

func TestHTTPFetcher_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(t).Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatusDescription(t *testing.T) {
	assert.Empty(t, StatusDescription(200))
	assert.Empty(t, StatusDescription(302))
	assert.Contains(t, StatusDescription(404), "Not Found")
	assert.Equal(t, "HTTP status code 599", StatusDescription(599))
}

func TestFetcherFunc(t *testing.T) {
	var f Fetcher = FetcherFunc(func(_ context.Context, uri string) (string, error) {
		return "content of " + uri, nil
	})

	text, err := f.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "content of x", text)
}
