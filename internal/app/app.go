// Package app wires the bridge components into a running language client.
//
// New builds every component in dependency order without starting the
// server. Activate starts the first session and returns the schema
// extension API. Run serves until the context ends or the server fails
// permanently, then shuts everything down.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/yamlbridge/internal/bridge"
	"github.com/dshills/yamlbridge/internal/config"
	"github.com/dshills/yamlbridge/internal/extension"
	"github.com/dshills/yamlbridge/internal/fetch"
	"github.com/dshills/yamlbridge/internal/filewatch"
	"github.com/dshills/yamlbridge/internal/host"
	"github.com/dshills/yamlbridge/internal/lsp"
	"github.com/dshills/yamlbridge/internal/luaext"
)

// ClientName is sent as clientInfo.name in initialize.
const ClientName = "yamlbridge"

// ShutdownTimeout bounds Run's final shutdown.
const ShutdownTimeout = 5 * time.Second

// Transport opens a fresh channel to the language server. It is called
// once per session, so restarts get a new channel.
type Transport func(ctx context.Context) (jsonrpc2.Stream, error)

// Options configures the application.
type Options struct {
	// Store provides the settings. Required.
	Store *config.Store

	// WorkspacePath is the workspace directory. Default: the working directory.
	WorkspacePath string

	// Logger is the root logger. Default: no logging.
	Logger *zap.Logger

	// LogLevel, when set, follows log.level across config reloads.
	LogLevel zap.AtomicLevel

	// Registerer receives the bridge metrics. Default: a private registry.
	Registerer prometheus.Registerer

	// Transport overrides the server channel. Default: start
	// server.command as a subprocess.
	Transport Transport

	// Fetcher overrides the network fetch strategy. Default: HTTP.
	Fetcher fetch.Fetcher

	// Extensions overrides extension discovery. Default: a registry over
	// extensions.paths.
	Extensions extension.Source

	// Version is sent as clientInfo.version.
	Version string
}

// Application holds the wired components.
type Application struct {
	opts   Options
	logger *zap.Logger

	store      *config.Store
	workspace  *host.Workspace
	extensions extension.Source
	registry   *extension.Registry // nil when Extensions was supplied
	fetcher    fetch.Fetcher
	gatherer   prometheus.Gatherer

	router       *bridge.Router
	syncer       *config.Syncer
	contributors *luaext.Manager
	supervisor   *lsp.Supervisor
	transport    Transport

	unsubscribe []func()

	running      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates the application. Nothing is started.
func New(opts Options) (*Application, error) {
	if opts.Store == nil {
		return nil, &InitError{Component: "config", Err: errors.New("no settings store")}
	}

	app := &Application{
		opts:   opts,
		logger: opts.Logger,
		store:  opts.Store,
	}
	if app.logger == nil {
		app.logger = zap.NewNop()
	}

	if err := app.bootstrap(); err != nil {
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	settings := app.store.Settings()

	// 1. Workspace
	ws, err := host.NewWorkspace(app.opts.WorkspacePath)
	if err != nil {
		return &InitError{Component: "workspace", Err: err}
	}
	app.workspace = ws

	// 2. Extensions
	app.extensions = app.opts.Extensions
	if app.extensions == nil {
		var loaderOpts []extension.LoaderOption
		if len(settings.Extensions.Paths) > 0 {
			loaderOpts = append(loaderOpts, extension.WithPaths(settings.Extensions.Paths...))
		}
		app.registry = extension.NewRegistry(
			extension.WithLoader(extension.NewLoader(loaderOpts...)),
			extension.WithLogger(app.logger.Named("extensions")),
		)
		app.extensions = app.registry
	}

	// 3. Network fetch
	app.fetcher = app.opts.Fetcher
	if app.fetcher == nil {
		app.fetcher = fetch.NewHTTPFetcher(
			fetch.WithLogger(app.logger.Named("fetch")),
			fetch.WithProxy(settings.HTTP.Proxy, settings.HTTP.ProxyStrictSSL),
		)
	}

	// 4. Metrics
	reg := app.opts.Registerer
	if reg == nil {
		private := prometheus.NewRegistry()
		reg, app.gatherer = private, private
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		app.gatherer = g
	}

	// 5. Router
	router, err := bridge.NewRouter(bridge.Config{
		Extensions: app.extensions,
		Documents:  app.workspace,
		Fetcher:    app.fetcher,
		Metrics:    bridge.NewMetrics(reg),
		Logger:     app.logger.Named("bridge"),
	})
	if err != nil {
		return &InitError{Component: "router", Err: err}
	}
	app.router = router

	// 6. Lua contributors follow the extension set
	app.contributors = luaext.NewManager(router.API(), app.logger.Named("luaext"))
	app.contributors.Sync(context.Background(), app.extensions.Extensions())
	app.unsubscribe = append(app.unsubscribe, app.extensions.OnDidChange(func() {
		app.contributors.Sync(context.Background(), app.extensions.Extensions())
	}))

	// 7. Configuration sync
	app.syncer = config.NewSyncer(app.store, app.logger.Named("config"))
	app.unsubscribe = append(app.unsubscribe, app.store.Subscribe(app.applySettings))

	// 8. Session supervision
	app.transport = app.opts.Transport
	if app.transport == nil {
		app.transport = app.processTransport
	}
	app.supervisor = lsp.NewSupervisor(app.newSession, lsp.SupervisorConfig{
		MaxRestarts: settings.Server.MaxRestarts,
	}, app.logger.Named("supervisor"))

	return nil
}

// API returns the schema extension API.
func (app *Application) API() *bridge.SchemaExtensionAPI {
	return app.router.API()
}

// Router returns the request router.
func (app *Application) Router() *bridge.Router {
	return app.router
}

// Workspace returns the host workspace.
func (app *Application) Workspace() *host.Workspace {
	return app.workspace
}

// Extensions returns the extension source.
func (app *Application) Extensions() extension.Source {
	return app.extensions
}

// Supervisor returns the session supervisor.
func (app *Application) Supervisor() *lsp.Supervisor {
	return app.supervisor
}

// Activate starts the first session and returns the schema extension API.
// ctx bounds the lifetime of every session, including restarts. A
// transport failure is returned wrapping lsp.ErrTransport and leaves no
// session behind.
func (app *Application) Activate(ctx context.Context) (*bridge.SchemaExtensionAPI, error) {
	if !app.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	if err := app.supervisor.Start(ctx); err != nil {
		app.running.Store(false)
		return nil, fmt.Errorf("activate: %w", err)
	}
	app.logger.Info("activated", zap.String("workspace", app.workspace.Root()))
	return app.router.API(), nil
}

// Run serves until ctx is done or the server fails permanently, then shuts
// down. Watchers that cannot start are logged and skipped.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.Load() {
		return ErrNotRunning
	}
	settings := app.store.Settings()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.supervisor.Wait(gctx); err != nil {
			return NewComponentError("session", "supervise", err)
		}
		if gctx.Err() == nil {
			// Stopped from outside; end the group.
			return errStopped
		}
		return nil
	})

	if app.store.Path() != "" {
		g.Go(func() error {
			return app.store.Watch(gctx)
		})
	}

	if app.registry != nil && settings.Extensions.Watch {
		g.Go(func() error {
			if err := app.registry.Watch(gctx); err != nil {
				app.logger.Warn("extension watching disabled", zap.Error(err))
			}
			return nil
		})
	}

	if settings.Watch.Enabled {
		g.Go(func() error {
			return app.forwardFileChanges(gctx)
		})
	}

	if settings.Metrics.Addr != "" && app.gatherer != nil {
		g.Go(func() error {
			return app.serveMetrics(gctx, settings.Metrics.Addr)
		})
	}

	err := g.Wait()
	if errors.Is(err, errStopped) {
		err = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return errors.Join(err, app.Shutdown(shutdownCtx))
}

// errStopped ends the run group when the supervisor is stopped.
var errStopped = errors.New("stopped")

// Shutdown disposes the session and releases every component. It is safe
// to call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	app.shutdownOnce.Do(func() {
		for _, unsub := range app.unsubscribe {
			unsub()
		}
		app.router.Stop()
		app.syncer.Close()

		var errs []error
		if err := app.supervisor.Stop(ctx); err != nil {
			errs = append(errs, NewComponentError("session", "dispose", err))
		}
		if err := app.contributors.Close(); err != nil {
			errs = append(errs, NewComponentError("luaext", "close", err))
		}
		app.shutdownErr = errors.Join(errs...)
		app.logger.Info("shut down")
	})
	return app.shutdownErr
}

// newSession is the supervisor's factory: open a channel, bind the router
// and config sync, and complete the handshake.
func (app *Application) newSession(ctx context.Context) (*lsp.Session, error) {
	stream, err := app.transport(ctx)
	if err != nil {
		return nil, err
	}

	root := app.workspace.Root()
	sess := lsp.NewSession(stream,
		lsp.WithLogger(app.logger.Named("session")),
		lsp.WithClientInfo(ClientName, app.opts.Version),
		lsp.WithWorkspaceFolders(protocol.WorkspaceFolder{
			URI:  app.workspace.RootURI(),
			Name: filepath.Base(root),
		}),
	)
	app.router.Bind(sess)
	app.syncer.Bind(sess)

	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// processTransport starts server.command as read at call time, so command
// changes apply on the next restart.
func (app *Application) processTransport(ctx context.Context) (jsonrpc2.Stream, error) {
	server := app.store.Settings().Server
	ch, err := lsp.StartProcess(ctx, lsp.ProcessConfig{
		Command:   server.Command,
		Args:      server.Args,
		Debug:     server.Debug,
		DebugArgs: server.DebugArgs,
		WorkDir:   app.workspace.Root(),
	}, app.logger.Named("server"))
	if err != nil {
		return nil, err
	}
	return jsonrpc2.NewStream(ch), nil
}

// configurable is implemented by fetchers whose proxy can change.
type configurable interface {
	Configure(proxy string, strictSSL bool) error
}

// applySettings reacts to a config reload. The synced sections are pushed
// by the Syncer.
func (app *Application) applySettings(change config.Change) {
	if change.Old.HTTP != change.New.HTTP {
		if c, ok := app.fetcher.(configurable); ok {
			if err := c.Configure(change.New.HTTP.Proxy, change.New.HTTP.ProxyStrictSSL); err != nil {
				app.logger.Error("http reconfiguration failed", zap.Error(err))
			}
		}
	}

	if change.Old.Log.Level != change.New.Log.Level && app.opts.LogLevel != (zap.AtomicLevel{}) {
		app.opts.LogLevel.SetLevel(ParseLogLevel(change.New.Log.Level))
	}

	if !serverEqual(change.Old.Server, change.New.Server) {
		app.logger.Info("server settings changed, applied on next restart")
	}
}

func serverEqual(a, b config.ServerSettings) bool {
	return a.Command == b.Command &&
		a.Debug == b.Debug &&
		a.WorkerURL == b.WorkerURL &&
		a.MaxRestarts == b.MaxRestarts &&
		slices.Equal(a.Args, b.Args) &&
		slices.Equal(a.DebugArgs, b.DebugArgs)
}

// forwardFileChanges reports workspace YAML and JSON changes to whichever
// session is current.
func (app *Application) forwardFileChanges(ctx context.Context) error {
	logger := app.logger.Named("filewatch")
	root := app.workspace.Root()

	w, err := filewatch.NewFSNotifyWatcher(watcherOptions(app.store.Settings().Watch)...)
	if err != nil {
		logger.Warn("file change forwarding disabled", zap.Error(err))
		return nil
	}
	defer w.Close()

	if err := w.WatchRecursive(root); err != nil {
		logger.Warn("file change forwarding disabled", zap.String("root", root), zap.Error(err))
		return nil
	}

	fwd := filewatch.NewForwarder(currentSession{app.supervisor}, root, filewatch.WithLogger(logger))
	return fwd.Run(ctx, w)
}

func watcherOptions(ws config.WatchSettings) []filewatch.WatcherOption {
	return []filewatch.WatcherOption{
		filewatch.WithIgnoreDirs(ws.IgnoreDirs...),
		filewatch.WithMaxWatches(ws.MaxWatches),
	}
}

// serveMetrics exposes the bridge metrics until ctx is done.
func (app *Application) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return NewComponentError("metrics", "serve "+addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// currentSession sends to the supervisor's live session.
type currentSession struct {
	supervisor *lsp.Supervisor
}

func (c currentSession) Notify(ctx context.Context, method string, params any) error {
	s := c.supervisor.Session()
	if s == nil {
		return lsp.ErrNotReady
	}
	return s.Notify(ctx, method, params)
}
