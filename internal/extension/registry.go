package extension

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Source is the host capability the bridge consumes: enumerate installed
// extensions and be told when that set changes.
type Source interface {
	// Extensions returns the current snapshot in host order.
	Extensions() []Descriptor

	// OnDidChange registers fn to be called after the extension set
	// changes. The returned function removes the subscription.
	OnDidChange(fn func()) (unsubscribe func())
}

// Registry is the Source implementation backed by a Loader and/or a set of
// statically provided descriptors.
//
// The snapshot is replaced as a whole on every refresh; callers holding an
// old slice keep a consistent view.
type Registry struct {
	loader *Loader
	logger *zap.Logger

	mu       sync.Mutex
	static   []Descriptor
	handlers map[uint64]func() // by subscription order
	nextID   uint64

	snapshot atomic.Pointer[[]Descriptor]

	debounce time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLoader makes the registry discover extensions from disk.
func WithLoader(l *Loader) RegistryOption {
	return func(r *Registry) {
		r.loader = l
	}
}

// WithStatic adds descriptors that are always present, ahead of discovered ones.
func WithStatic(descs ...Descriptor) RegistryOption {
	return func(r *Registry) {
		r.static = append(r.static, descs...)
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithDebounce sets how long Watch waits for filesystem events to settle.
func WithDebounce(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d >= 0 {
			r.debounce = d
		}
	}
}

// NewRegistry creates a registry and performs the initial discovery.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:   zap.NewNop(),
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}

	initial := r.collect()
	r.snapshot.Store(&initial)
	return r
}

// Extensions implements Source.
func (r *Registry) Extensions() []Descriptor {
	return *r.snapshot.Load()
}

// OnDidChange implements Source.
func (r *Registry) OnDidChange(fn func()) func() {
	if fn == nil {
		return func() {}
	}

	r.mu.Lock()
	if r.handlers == nil {
		r.handlers = make(map[uint64]func())
	}
	id := r.nextID
	r.nextID++
	r.handlers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, id)
	}
}

// SetStatic replaces the statically provided descriptors and refreshes.
func (r *Registry) SetStatic(descs []Descriptor) bool {
	r.mu.Lock()
	r.static = append([]Descriptor(nil), descs...)
	r.mu.Unlock()
	return r.Refresh()
}

// Refresh re-discovers extensions. When the set differs from the current
// snapshot it publishes the new snapshot and notifies subscribers.
// Returns true if the set changed.
func (r *Registry) Refresh() bool {
	next := r.collect()
	prev := r.Extensions()
	if sameSet(prev, next) {
		return false
	}

	r.snapshot.Store(&next)
	r.logger.Info("extension set changed", zap.Int("before", len(prev)), zap.Int("after", len(next)))
	r.emit()
	return true
}

// collect builds a fresh snapshot.
func (r *Registry) collect() []Descriptor {
	r.mu.Lock()
	out := append([]Descriptor(nil), r.static...)
	r.mu.Unlock()

	if r.loader == nil {
		return out
	}

	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[d.ID] = true
	}
	for _, d := range r.loader.Discover() {
		if !seen[d.ID] {
			out = append(out, d)
		}
	}
	for dir, err := range r.loader.Errors() {
		r.logger.Warn("skipping extension", zap.String("dir", dir), zap.Error(err))
	}
	return out
}

// emit calls subscribers outside the lock. Panics in handlers are recovered.
func (r *Registry) emit() {
	r.mu.Lock()
	handlers := make([]func(), 0, len(r.handlers))
	for _, id := range slices.Sorted(maps.Keys(r.handlers)) {
		handlers = append(handlers, r.handlers[id])
	}
	r.mu.Unlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("extension change handler panicked", zap.Any("panic", p))
				}
			}()
			h()
		}()
	}
}

// Watch refreshes the registry whenever an extension search path or an
// extension directory changes. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.loader == nil {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create extension watcher: %w", err)
	}
	defer w.Close()

	watched := make(map[string]bool)
	r.syncWatches(w, watched)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("extension watcher error", zap.Error(err))

		case <-fire:
			fire = nil
			r.Refresh()
			r.syncWatches(w, watched)
		}
	}
}

// syncWatches adds watches for search paths and extension directories that
// are not yet watched.
func (r *Registry) syncWatches(w *fsnotify.Watcher, watched map[string]bool) {
	dirs := append([]string(nil), r.loader.Paths()...)
	for _, d := range r.Extensions() {
		if d.Path() != "" {
			dirs = append(dirs, d.Path())
		}
	}

	for _, dir := range dirs {
		if watched[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := w.Add(dir); err != nil {
			r.logger.Warn("cannot watch extension directory", zap.String("dir", dir), zap.Error(err))
			continue
		}
		watched[dir] = true
	}
}

// sameSet reports whether two snapshots are identical, including order.
func sameSet(a, b []Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
