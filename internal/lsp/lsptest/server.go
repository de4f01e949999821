// Package lsptest provides an in-memory language server peer for tests.
package lsptest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// Notification is a notification received by the fake server.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Decode unmarshals the params into v.
func (n Notification) Decode(v any) error {
	return json.Unmarshal(n.Params, v)
}

// InitializeFunc answers the initialize request. It may reply later from
// another goroutine.
type InitializeFunc func(ctx context.Context, srv *Server, reply jsonrpc2.Replier, params json.RawMessage)

// Server is the server end of a net.Pipe speaking jsonrpc2.
type Server struct {
	conn jsonrpc2.Conn

	initialize InitializeFunc
	handlers   map[string]func(ctx context.Context, params json.RawMessage) (any, error)

	mu       sync.Mutex
	notes    []Notification
	calls    []string
	notified chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithInitialize replaces the default initialize handler.
func WithInitialize(fn InitializeFunc) Option {
	return func(s *Server) {
		s.initialize = fn
	}
}

// WithHandler answers requests for method.
func WithHandler(method string, fn func(ctx context.Context, params json.RawMessage) (any, error)) Option {
	return func(s *Server) {
		s.handlers[method] = fn
	}
}

// DefaultInitialize replies with a server named "fake".
func DefaultInitialize(ctx context.Context, _ *Server, reply jsonrpc2.Replier, _ json.RawMessage) {
	_ = reply(ctx, &protocol.InitializeResult{
		ServerInfo: &protocol.ServerInfo{Name: "fake", Version: "1.0.0"},
	}, nil)
}

// NewPipe starts a fake server and returns the client end of the pipe.
// Both ends are closed when the test finishes.
func NewPipe(t testing.TB, opts ...Option) (io.ReadWriteCloser, *Server) {
	t.Helper()

	client, server := net.Pipe()
	s := &Server{
		initialize: DefaultInitialize,
		handlers:   make(map[string]func(context.Context, json.RawMessage) (any, error)),
		notified:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.conn = jsonrpc2.NewConn(jsonrpc2.NewStream(server))
	s.conn.Go(context.Background(), s.handle)

	t.Cleanup(func() {
		client.Close()
		s.Close()
	})
	return client, s
}

func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	method := req.Method()
	params := json.RawMessage(req.Params())

	if _, ok := req.(*jsonrpc2.Call); !ok {
		s.mu.Lock()
		s.notes = append(s.notes, Notification{Method: method, Params: append(json.RawMessage(nil), params...)})
		s.mu.Unlock()
		select {
		case s.notified <- struct{}{}:
		default:
		}
		return nil
	}

	s.mu.Lock()
	s.calls = append(s.calls, method)
	s.mu.Unlock()

	switch method {
	case protocol.MethodInitialize:
		s.initialize(ctx, s, reply, params)
		return nil
	case protocol.MethodShutdown:
		return reply(ctx, nil, nil)
	}

	if h, ok := s.handlers[method]; ok {
		go func() {
			result, err := h(ctx, params)
			_ = reply(ctx, result, err)
		}()
		return nil
	}
	return reply(ctx, nil, fmt.Errorf("%q: %w", method, jsonrpc2.ErrMethodNotFound))
}

// Call sends a request to the client.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	_, err := s.conn.Call(ctx, method, params, result)
	return err
}

// Notify sends a notification to the client.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	return s.conn.Notify(ctx, method, params)
}

// Notifications returns the notifications received so far, in order.
func (s *Server) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notes...)
}

// NotificationsFor returns the received notifications for method.
func (s *Server) NotificationsFor(method string) []Notification {
	var out []Notification
	for _, n := range s.Notifications() {
		if n.Method == method {
			out = append(out, n)
		}
	}
	return out
}

// Calls returns the methods of requests received so far.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// WaitNotifications blocks until at least n notifications for method have
// arrived, failing the test after timeout.
func (s *Server) WaitNotifications(t testing.TB, method string, n int, timeout time.Duration) []Notification {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if got := s.NotificationsFor(method); len(got) >= n {
			return got
		}
		select {
		case <-s.notified:
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d %q notifications, got %d", n, method, len(s.NotificationsFor(method)))
			return nil
		}
	}
}

// Close drops the connection, which the client sees as a crash.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Done is closed when the server side of the connection has ended.
func (s *Server) Done() <-chan struct{} {
	return s.conn.Done()
}
