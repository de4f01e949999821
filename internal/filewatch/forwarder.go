package filewatch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// Notifier sends notifications to the server.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Forwarder turns watcher events under root into batched
// workspace/didChangeWatchedFiles notifications. Multiple changes to the
// same path within the delay window are coalesced.
type Forwarder struct {
	notifier Notifier
	root     string
	patterns []*Pattern
	delay    time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	order   []string
	pending map[string]protocol.FileChangeType
	timer   *time.Timer
	flushCh chan struct{}
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithDelay sets the coalescing window.
func WithDelay(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		if d > 0 {
			f.delay = d
		}
	}
}

// WithPatterns replaces the default patterns.
func WithPatterns(patterns ...*Pattern) ForwarderOption {
	return func(f *Forwarder) {
		f.patterns = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ForwarderOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a forwarder for files under root.
func NewForwarder(n Notifier, root string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		notifier: n,
		root:     root,
		patterns: DefaultPatterns(),
		delay:    100 * time.Millisecond,
		logger:   zap.NewNop(),
		pending:  make(map[string]protocol.FileChangeType),
		flushCh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Matches reports whether path is under root and matches a pattern.
func (f *Forwarder) Matches(path string) bool {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range f.patterns {
		if p.Match(rel) {
			return true
		}
	}
	return false
}

// Add queues an event. Events that do not match are dropped.
func (f *Forwarder) Add(ev Event) {
	change, ok := changeType(ev.Op)
	if !ok || !f.Matches(ev.Path) {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, exists := f.pending[ev.Path]
	switch {
	case !exists:
		f.order = append(f.order, ev.Path)
		f.pending[ev.Path] = change
	case prev == protocol.FileChangeTypeCreated && change == protocol.FileChangeTypeDeleted:
		// Created and deleted inside the window: nothing to report.
		delete(f.pending, ev.Path)
	case prev == protocol.FileChangeTypeCreated:
	case prev == protocol.FileChangeTypeDeleted && change == protocol.FileChangeTypeCreated:
		f.pending[ev.Path] = protocol.FileChangeTypeChanged
	default:
		f.pending[ev.Path] = change
	}

	if f.timer == nil {
		f.timer = time.AfterFunc(f.delay, func() {
			select {
			case f.flushCh <- struct{}{}:
			default:
			}
		})
	} else {
		f.timer.Reset(f.delay)
	}
}

// take removes and returns the pending batch in arrival order.
func (f *Forwarder) take() []*protocol.FileEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var changes []*protocol.FileEvent
	for _, p := range f.order {
		change, ok := f.pending[p]
		if !ok {
			continue
		}
		changes = append(changes, &protocol.FileEvent{Type: change, URI: uri.File(p)})
	}
	f.order = f.order[:0]
	clear(f.pending)
	return changes
}

// Flush sends the pending batch immediately.
func (f *Forwarder) Flush(ctx context.Context) error {
	changes := f.take()
	if len(changes) == 0 {
		return nil
	}
	return f.notifier.Notify(ctx, protocol.MethodWorkspaceDidChangeWatchedFiles, &protocol.DidChangeWatchedFilesParams{
		Changes: changes,
	})
}

// Run forwards events from w until ctx is done or w is closed.
func (f *Forwarder) Run(ctx context.Context, w *FSNotifyWatcher) error {
	defer func() {
		f.mu.Lock()
		if f.timer != nil {
			f.timer.Stop()
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			f.Add(ev)

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			f.logger.Warn("file watcher error", zap.Error(err))

		case <-f.flushCh:
			if err := f.Flush(ctx); err != nil {
				f.logger.Debug("watched file changes not delivered", zap.Error(err))
			}
		}
	}
}

func changeType(op Op) (protocol.FileChangeType, bool) {
	switch {
	case op.Has(OpRemove), op.Has(OpRename):
		return protocol.FileChangeTypeDeleted, true
	case op.Has(OpCreate):
		return protocol.FileChangeTypeCreated, true
	case op.Has(OpWrite):
		return protocol.FileChangeTypeChanged, true
	default:
		return 0, false
	}
}
