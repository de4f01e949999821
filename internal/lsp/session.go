package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// State is the protocol state of a Session.
type State int32

const (
	// StateNotStarted means Start has not been called.
	StateNotStarted State = iota
	// StateStarting means the initialize handshake is in flight.
	StateStarting
	// StateReady means the server is initialized and handlers are active.
	StateReady
	// StateDisposed is terminal.
	StateDisposed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Client identification sent in initialize.
const (
	DefaultClientName = "yamlbridge"
	DefaultTimeout    = 30 * time.Second
)

// Session is one client connection to a language server.
//
// Thread Safety: Session is safe for concurrent use. The state field uses
// atomic operations for lock-free reads. Handler tables are protected by mu.
type Session struct {
	id     string
	stream jsonrpc2.Stream
	conn   jsonrpc2.Conn
	logger *zap.Logger

	// Initialize parameters
	clientName    string
	clientVersion string
	rootURI       protocol.DocumentURI
	folders       []protocol.WorkspaceFolder
	initOptions   any
	timeout       time.Duration

	state atomic.Int32

	mu            sync.RWMutex
	handlers      map[string]RequestHandler
	immediate     map[string]bool
	notifications map[string][]NotificationHandler
	onReady       []func(context.Context)
	serverInfo    *protocol.ServerInfo
	err           error

	// Lifecycle. ctx, cancel and conn are published under mu by Start.
	ctx         context.Context
	cancel      context.CancelFunc
	ready       chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	disposeOnce sync.Once
	disposing   atomic.Bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClientInfo sets the client name and version sent in initialize.
func WithClientInfo(name, version string) SessionOption {
	return func(s *Session) {
		s.clientName = name
		s.clientVersion = version
	}
}

// WithWorkspaceFolders sets the workspace folders sent in initialize. The
// first folder is also used as the root URI.
func WithWorkspaceFolders(folders ...protocol.WorkspaceFolder) SessionOption {
	return func(s *Session) {
		s.folders = folders
		if len(folders) > 0 {
			s.rootURI = protocol.DocumentURI(folders[0].URI)
		}
	}
}

// WithInitializationOptions sets initializationOptions for initialize.
func WithInitializationOptions(opts any) SessionOption {
	return func(s *Session) {
		s.initOptions = opts
	}
}

// WithTimeout bounds the initialize and shutdown requests.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession creates a session over stream. Nothing is read or written
// until Start.
func NewSession(stream jsonrpc2.Stream, opts ...SessionOption) *Session {
	s := &Session{
		id:            uuid.NewString(),
		stream:        stream,
		logger:        zap.NewNop(),
		clientName:    DefaultClientName,
		timeout:       DefaultTimeout,
		handlers:      make(map[string]RequestHandler),
		immediate:     make(map[string]bool),
		notifications: make(map[string][]NotificationHandler),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	s.state.Store(int32(StateNotStarted))
	s.registerDefaults()
	return s
}

// NewStreamSession creates a session over a byte stream using the LSP
// header framing.
func NewStreamSession(rwc io.ReadWriteCloser, opts ...SessionOption) *Session {
	return NewSession(jsonrpc2.NewStream(rwc), opts...)
}

// registerDefaults installs the handlers every client must answer. They are
// served even before Ready because servers may send them while initialize
// is still in flight.
func (s *Session) registerDefaults() {
	nop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	for _, method := range []string{
		protocol.MethodClientRegisterCapability,
		protocol.MethodClientUnregisterCapability,
		protocol.MethodWorkDoneProgressCreate,
	} {
		s.handlers[method] = nop
		s.immediate[method] = true
	}
	s.handlers[protocol.MethodWorkspaceWorkspaceFolders] = func(context.Context, json.RawMessage) (any, error) {
		return s.folders, nil
	}
	s.immediate[protocol.MethodWorkspaceWorkspaceFolders] = true

	s.notifications[protocol.MethodWindowLogMessage] = []NotificationHandler{s.logServerMessage}
	s.notifications[protocol.MethodWindowShowMessage] = []NotificationHandler{s.logServerMessage}
	s.notifications[protocol.MethodProgress] = []NotificationHandler{func(context.Context, json.RawMessage) {}}
	s.notifications[protocol.MethodTelemetryEvent] = []NotificationHandler{func(context.Context, json.RawMessage) {}}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ServerInfo returns what the server reported in initialize, or nil.
func (s *Session) ServerInfo() *protocol.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverInfo
}

// Handle registers h for method, replacing any previous handler. Requests
// for method that arrive before Ready wait for the transition.
func (s *Session) Handle(method string, h RequestHandler) {
	s.mu.Lock()
	s.handlers[method] = h
	delete(s.immediate, method)
	s.mu.Unlock()
}

// OnNotification adds a handler for a server notification.
func (s *Session) OnNotification(method string, h NotificationHandler) {
	s.mu.Lock()
	s.notifications[method] = append(s.notifications[method], h)
	s.mu.Unlock()
}

// OnReady registers fn to run once the session is Ready. Callbacks run in
// registration order. If the session is already Ready fn runs immediately.
func (s *Session) OnReady(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.State() != StateReady {
		s.onReady = append(s.onReady, fn)
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()
	fn(ctx)
}

// Start connects, performs the initialize handshake and transitions to
// Ready. On failure the session is disposed.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		if s.State() == StateDisposed {
			return &SessionError{SessionID: s.id, Op: "start", Err: ErrDisposed}
		}
		return &SessionError{SessionID: s.id, Op: "start", Err: ErrAlreadyStarted}
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := jsonrpc2.NewConn(s.stream)
	s.mu.Lock()
	s.ctx, s.cancel, s.conn = sessCtx, cancel, conn
	s.mu.Unlock()
	conn.Go(sessCtx, s.handle)
	go s.watch(conn)

	if err := s.initialize(ctx); err != nil {
		s.close()
		return &SessionError{SessionID: s.id, Op: "initialize", Err: err}
	}

	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateReady)) {
		s.mu.Unlock()
		return &SessionError{SessionID: s.id, Op: "start", Err: ErrDisposed}
	}
	callbacks := s.onReady
	s.onReady = nil
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("session ready", zap.String("server", serverLabel(s.ServerInfo())))

	for _, fn := range callbacks {
		fn(sessCtx)
	}
	return nil
}

// bound returns ctx cancelled also when the session ends, so calls waiting
// on a closed connection return.
func (s *Session) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.RLock()
	sessCtx := s.ctx
	s.mu.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	if sessCtx == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(sessCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// connection returns the connection, or nil before Start.
func (s *Session) connection() jsonrpc2.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

func (s *Session) initialize(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, s.timeout)
	defer cancelTimeout()

	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		ClientInfo: &protocol.ClientInfo{
			Name:    s.clientName,
			Version: s.clientVersion,
		},
		RootURI:               s.rootURI,
		InitializationOptions: s.initOptions,
		Capabilities:          ClientCapabilities(),
		WorkspaceFolders:      s.folders,
	}

	var result protocol.InitializeResult
	if _, err := s.connection().Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.mu.Unlock()

	if err := s.connection().Notify(ctx, protocol.MethodInitialized, &protocol.InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// ClientCapabilities returns the capabilities this client declares.
func ClientCapabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		Workspace: &protocol.WorkspaceClientCapabilities{
			Configuration:    true,
			WorkspaceFolders: true,
			DidChangeConfiguration: &protocol.DidChangeConfigurationWorkspaceClientCapabilities{
				DynamicRegistration: true,
			},
			DidChangeWatchedFiles: &protocol.DidChangeWatchedFilesWorkspaceClientCapabilities{
				DynamicRegistration: true,
			},
		},
	}
}

// Notify sends a notification. It is only valid while Ready.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	switch s.State() {
	case StateReady:
	case StateDisposed:
		return &SessionError{SessionID: s.id, Op: method, Err: ErrDisposed}
	default:
		return &SessionError{SessionID: s.id, Op: method, Err: ErrNotReady}
	}

	if err := s.connection().Notify(ctx, method, params); err != nil {
		return &SessionError{SessionID: s.id, Op: method, Err: err}
	}
	return nil
}

// Call sends a request and decodes the response into result. It is only
// valid while Ready.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	switch s.State() {
	case StateReady:
	case StateDisposed:
		return &SessionError{SessionID: s.id, Op: method, Err: ErrDisposed}
	default:
		return &SessionError{SessionID: s.id, Op: method, Err: ErrNotReady}
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.connection().Call(ctx, method, params, result); err != nil {
		return &SessionError{SessionID: s.id, Op: method, Err: err}
	}
	return nil
}

// handle is the jsonrpc2 handler. It runs on the read loop, so requests are
// moved to their own goroutine and notifications are dispatched inline.
func (s *Session) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	method := req.Method()
	params := json.RawMessage(req.Params())

	if _, ok := req.(*jsonrpc2.Call); !ok {
		s.dispatchNotification(ctx, method, params)
		return nil
	}

	go s.serve(ctx, reply, method, params)
	return nil
}

func (s *Session) dispatchNotification(ctx context.Context, method string, params json.RawMessage) {
	s.mu.RLock()
	handlers := append([]NotificationHandler(nil), s.notifications[method]...)
	s.mu.RUnlock()

	if len(handlers) == 0 {
		s.logger.Debug("unhandled notification", zap.String("method", method))
		return
	}
	for _, h := range handlers {
		h(ctx, params)
	}
}

func (s *Session) serve(ctx context.Context, reply jsonrpc2.Replier, method string, params json.RawMessage) {
	s.mu.RLock()
	immediate := s.immediate[method]
	s.mu.RUnlock()

	if !immediate {
		select {
		case <-s.ready:
		case <-s.done:
			return
		}
	}

	s.mu.RLock()
	h := s.handlers[method]
	s.mu.RUnlock()

	if h == nil {
		s.logger.Debug("no handler for request", zap.String("method", method))
		s.reply(ctx, reply, method, nil, fmt.Errorf("%q: %w", method, jsonrpc2.ErrMethodNotFound))
		return
	}

	result, err := s.invoke(ctx, h, method, params)
	s.reply(ctx, reply, method, result, replyError(err))
}

// invoke calls h, converting a panic into an error reply.
func (s *Session) invoke(ctx context.Context, h RequestHandler, method string, params json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("request handler panicked", zap.String("method", method), zap.Any("panic", p))
			result, err = nil, fmt.Errorf("%s: handler panicked: %v", method, p)
		}
	}()
	return h(ctx, params)
}

func (s *Session) reply(ctx context.Context, reply jsonrpc2.Replier, method string, result any, err error) {
	if rerr := reply(ctx, result, err); rerr != nil {
		// The stream is gone; the result is discarded.
		s.logger.Debug("reply dropped", zap.String("method", method), zap.Error(rerr))
	}
}

func (s *Session) logServerMessage(_ context.Context, params json.RawMessage) {
	var msg protocol.LogMessageParams
	if err := json.Unmarshal(params, &msg); err != nil {
		s.logger.Debug("malformed server message", zap.Error(err))
		return
	}

	logger := s.logger.Named("server")
	switch msg.Type {
	case protocol.MessageTypeError:
		logger.Error(msg.Message)
	case protocol.MessageTypeWarning:
		logger.Warn(msg.Message)
	case protocol.MessageTypeInfo:
		logger.Info(msg.Message)
	default:
		logger.Debug(msg.Message)
	}
}

// watch waits for the connection to end and records why.
func (s *Session) watch(conn jsonrpc2.Conn) {
	<-conn.Done()

	if !s.disposing.Load() {
		err := conn.Err()
		if err == nil {
			err = ErrServerCrashed
		} else {
			err = fmt.Errorf("%w: %v", ErrServerCrashed, err)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("server connection lost", zap.Error(err))
	}

	s.state.Store(int32(StateDisposed))
	s.markDone()
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() {
		s.mu.RLock()
		cancel := s.cancel
		s.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}

// Done is closed when the session ends, by Dispose or because the
// connection dropped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended. It is nil while running and after a
// clean Dispose, and wraps ErrServerCrashed when the connection dropped.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Dispose shuts the server down and releases the channel. A Ready session
// sends shutdown and exit first, bounded by ctx and the session timeout.
// The stream is closed before Dispose returns. Dispose is idempotent.
func (s *Session) Dispose(ctx context.Context) error {
	s.disposeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateDisposed)))
		s.disposing.Store(true)

		if conn := s.connection(); prev == StateReady && conn != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, s.timeout)
			if _, err := conn.Call(shutdownCtx, protocol.MethodShutdown, nil, nil); err != nil {
				s.logger.Debug("shutdown request failed", zap.Error(err))
			}
			if err := conn.Notify(shutdownCtx, protocol.MethodExit, nil); err != nil {
				s.logger.Debug("exit notification failed", zap.Error(err))
			}
			cancel()
		}

		s.close()
		s.logger.Info("session disposed")
	})
	return nil
}

// close releases the stream and ends the session.
func (s *Session) close() {
	s.disposing.Store(true)
	s.state.Store(int32(StateDisposed))

	if conn := s.connection(); conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("close stream", zap.Error(err))
		}
	} else if err := s.stream.Close(); err != nil {
		s.logger.Debug("close stream", zap.Error(err))
	}
	s.markDone()
}

func serverLabel(info *protocol.ServerInfo) string {
	if info == nil {
		return "unknown"
	}
	if info.Version == "" {
		return info.Name
	}
	return info.Name + " " + info.Version
}
