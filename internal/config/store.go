package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change describes a reload that altered the settings.
type Change struct {
	Old *Settings
	New *Settings
}

// Observer is called after the settings change.
type Observer func(change Change)

// Store holds the current settings and reloads them when the file changes.
//
// Thread Safety: Settings is lock-free. Observers are called synchronously
// from the goroutine that reloaded, outside the lock.
type Store struct {
	opts     *options
	logger   *zap.Logger
	debounce time.Duration

	current atomic.Pointer[Settings]

	mu        sync.Mutex
	observers map[uint64]Observer
	nextID    uint64
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithDebounce sets how long Watch waits for writes to settle.
func WithDebounce(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// NewStore loads the settings once. Load options select the file and
// environment.
func NewStore(loadOpts []Option, opts ...StoreOption) (*Store, error) {
	s := &Store{
		opts:      newOptions(loadOpts),
		logger:    zap.NewNop(),
		debounce:  100 * time.Millisecond,
		observers: make(map[uint64]Observer),
	}
	for _, opt := range opts {
		opt(s)
	}

	settings, err := s.opts.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(settings)
	return s, nil
}

// NewStaticStore wraps fixed settings. Reload keeps them.
func NewStaticStore(settings *Settings) *Store {
	s := &Store{
		logger:    zap.NewNop(),
		observers: make(map[uint64]Observer),
	}
	s.current.Store(settings)
	return s
}

// Path returns the configuration file path, or "" for a static store.
func (s *Store) Path() string {
	if s.opts == nil {
		return ""
	}
	return s.opts.path
}

// Settings returns the current settings. Callers must not modify them.
func (s *Store) Settings() *Settings {
	return s.current.Load()
}

// Subscribe registers an observer. The returned function removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Reload reads the configuration again. Invalid configuration keeps the
// previous settings and returns the error. Observers run only when the
// settings actually changed.
func (s *Store) Reload() (bool, error) {
	if s.opts == nil {
		return false, nil
	}
	next, err := s.opts.load()
	if err != nil {
		return false, err
	}

	prev := s.current.Swap(next)
	if reflect.DeepEqual(prev, next) {
		return false, nil
	}

	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	change := Change{Old: prev, New: next}
	for _, fn := range observers {
		fn(change)
	}
	return true, nil
}

// Watch reloads whenever the configuration file is written, created or
// replaced, until ctx is done. The parent directory is watched so editors
// that save by rename are seen.
func (s *Store) Watch(ctx context.Context) error {
	path := s.Path()
	if path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		// The directory may not exist yet; nothing to watch.
		s.logger.Debug("config directory not watched", zap.String("dir", dir), zap.Error(err))
		<-ctx.Done()
		return nil
	}

	var (
		timer  *time.Timer
		fire   = make(chan struct{}, 1)
		target = filepath.Clean(path)
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watch error", zap.Error(err))

		case <-fire:
			changed, err := s.Reload()
			if err != nil {
				s.logger.Error("config reload failed, keeping previous settings", zap.String("path", path), zap.Error(err))
				continue
			}
			if changed {
				s.logger.Info("configuration reloaded", zap.String("path", path))
			}
		}
	}
}
