// Package filewatch reports workspace file changes to the language server.
//
// An FSNotifyWatcher watches the workspace tree and auto-watches new
// directories. A Forwarder filters its events through glob patterns,
// coalesces rapid changes per path, and sends the batch as one
// workspace/didChangeWatchedFiles notification.
package filewatch

import (
	"errors"
	"time"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed   = errors.New("watcher is closed")
	ErrAlreadyWatching = errors.New("path is already being watched")
	ErrPathNotExist    = errors.New("path does not exist")
	ErrMaxWatches      = errors.New("maximum watch limit reached")
)

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed away.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpWrite:
		return "WRITE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	case OpChmod:
		return "CHMOD"
	default:
		return "UNKNOWN"
	}
}

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event represents a file system change event.
type Event struct {
	// Path is the absolute path of the affected file or directory.
	Path string

	// Op is the operation that occurred.
	Op Op

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// Config holds watcher configuration options.
type Config struct {
	// BufferSize is the size of the event and error channels.
	// Default: 256
	BufferSize int

	// IgnoreDirs are directory base-name patterns that are never watched.
	// Default: .git, node_modules
	IgnoreDirs []string

	// MaxWatches is the maximum number of directories to watch.
	// 0 means unlimited.
	MaxWatches int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
		IgnoreDirs: []string{".git", "node_modules"},
	}
}

// WatcherOption configures a watcher.
type WatcherOption func(*Config)

// WithIgnoreDirs replaces the ignored directory patterns.
func WithIgnoreDirs(patterns ...string) WatcherOption {
	return func(c *Config) {
		c.IgnoreDirs = patterns
	}
}

// WithMaxWatches sets the maximum number of watched directories. Zero
// means unlimited.
func WithMaxWatches(max int) WatcherOption {
	return func(c *Config) {
		c.MaxWatches = max
	}
}
