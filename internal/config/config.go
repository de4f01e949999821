package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/yamlbridge/internal/config/loader"
)

// Settings is the complete yamlbridge configuration.
type Settings struct {
	Server     ServerSettings    `toml:"server"`
	Extensions ExtensionSettings `toml:"extensions"`
	Log        LogSettings       `toml:"log"`
	HTTP       HTTPSettings      `toml:"http"`
	Watch      WatchSettings     `toml:"watch"`
	Metrics    MetricsSettings   `toml:"metrics"`

	// YAML is passed to the language server verbatim as the yaml section.
	YAML map[string]any `toml:"yaml"`
}

// ServerSettings describes how the language server is started.
type ServerSettings struct {
	// Command is the server executable for the process runtime.
	Command string `toml:"command"`
	// Args are passed to Command.
	Args []string `toml:"args"`
	// Debug appends DebugArgs to Args.
	Debug     bool     `toml:"debug"`
	DebugArgs []string `toml:"debugArgs"`
	// WorkerURL is the server script for the browser runtime.
	WorkerURL string `toml:"workerURL"`
	// MaxRestarts bounds crash recovery. Zero disables restarts.
	MaxRestarts int `toml:"maxRestarts"`
}

// ExtensionSettings controls extension discovery.
type ExtensionSettings struct {
	// Paths are directories searched for installed extensions. Empty
	// means the platform defaults.
	Paths []string `toml:"paths"`
	// Watch rescans when an extension directory changes.
	Watch bool `toml:"watch"`
}

// LogSettings controls the logger.
type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// HTTPSettings configures schema downloads. Both fields are synced to the
// server.
type HTTPSettings struct {
	Proxy          string `toml:"proxy"`
	ProxyStrictSSL bool   `toml:"proxyStrictSSL"`
}

// WatchSettings controls workspace file-change forwarding.
type WatchSettings struct {
	Enabled bool `toml:"enabled"`
	// IgnoreDirs are directory base-name patterns never watched.
	IgnoreDirs []string `toml:"ignoreDirs"`
	// MaxWatches caps the number of watched directories. Zero means no cap.
	MaxWatches int `toml:"maxWatches"`
}

// MetricsSettings controls the Prometheus endpoint. An empty Addr
// disables it.
type MetricsSettings struct {
	Addr string `toml:"addr"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{
			Command:     "yaml-language-server",
			Args:        []string{"--stdio"},
			MaxRestarts: 5,
		},
		Extensions: ExtensionSettings{
			Watch: true,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
		HTTP: HTTPSettings{
			ProxyStrictSSL: true,
		},
		Watch: WatchSettings{
			Enabled:    true,
			IgnoreDirs: []string{".git", "node_modules"},
		},
		YAML: map[string]any{},
	}
}

// DefaultPath returns the user configuration file path.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "yamlbridge", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "yamlbridge", "config.toml")
}

// Option configures loading.
type Option func(*options)

type options struct {
	path    string
	fs      loader.FileSystem
	environ []string
	useEnv  bool
}

// WithPath sets the configuration file. Default: DefaultPath().
func WithPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.path = path
		}
	}
}

// WithFileSystem sets the file system the file is read from.
func WithFileSystem(fs loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithEnviron replaces the process environment as the source of
// YAMLBRIDGE_* overrides.
func WithEnviron(environ []string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// WithoutEnv disables environment overrides.
func WithoutEnv() Option {
	return func(o *options) {
		o.useEnv = false
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		fs:     loader.DefaultFS(),
		useEnv: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.path == "" {
		o.path = DefaultPath()
	}
	return o
}

// Load reads the file and environment on top of the defaults and
// validates the result. A missing file is not an error.
func Load(opts ...Option) (*Settings, error) {
	return newOptions(opts).load()
}

// source is one layer of raw settings.
type source struct {
	name   string
	loader loader.Loader
}

// sources lists the layers in override order.
func (o *options) sources() []source {
	srcs := []source{{name: o.path, loader: loader.NewTOMLLoaderWithFS(o.fs, o.path)}}
	if o.useEnv {
		env := loader.NewEnvLoader(loader.EnvPrefix)
		if o.environ != nil {
			env = loader.NewEnvLoaderWithEnviron(loader.EnvPrefix, o.environ)
		}
		srcs = append(srcs, source{name: "environment", loader: env})
	}
	return srcs
}

func (o *options) load() (*Settings, error) {
	var merged map[string]any
	for _, src := range o.sources() {
		raw, err := src.loader.Load()
		if err != nil {
			return nil, err
		}
		if err := decode(raw, &Settings{}); err != nil {
			return nil, &TypeError{Source: src.name, Err: err}
		}
		merged = loader.DeepMerge(merged, loader.Clone(raw))
	}

	s := Default()
	if err := decode(merged, s); err != nil {
		return nil, &TypeError{Source: o.path, Err: err}
	}
	if s.YAML == nil {
		s.YAML = map[string]any{}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// decode applies a raw configuration map to s.
func decode(raw map[string]any, s *Settings) error {
	if len(raw) == 0 {
		return nil
	}
	data, err := toml.Marshal(raw)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, s)
}

var (
	logLevels  = []string{"debug", "info", "warn", "warning", "error"}
	logFormats = []string{"console", "json"}
)

// Validate checks values that decode fine but are not usable.
func (s *Settings) Validate() error {
	var errs []error
	if s.Server.Command == "" && s.Server.WorkerURL == "" {
		errs = append(errs, &ValidationError{Path: "server.command", Message: "command or workerURL is required", Value: s.Server.Command})
	}
	if s.Server.MaxRestarts < 0 {
		errs = append(errs, &ValidationError{Path: "server.maxRestarts", Message: "must not be negative", Value: s.Server.MaxRestarts})
	}
	if s.Watch.MaxWatches < 0 {
		errs = append(errs, &ValidationError{Path: "watch.maxWatches", Message: "must not be negative", Value: s.Watch.MaxWatches})
	}
	if !slices.Contains(logLevels, s.Log.Level) {
		errs = append(errs, &ValidationError{Path: "log.level", Message: fmt.Sprintf("must be one of %v", logLevels), Value: s.Log.Level})
	}
	if !slices.Contains(logFormats, s.Log.Format) {
		errs = append(errs, &ValidationError{Path: "log.format", Message: fmt.Sprintf("must be one of %v", logFormats), Value: s.Log.Format})
	}
	if s.HTTP.Proxy != "" {
		if u, err := url.Parse(s.HTTP.Proxy); err != nil || u.Host == "" {
			errs = append(errs, &ValidationError{Path: "http.proxy", Message: "must be an absolute URL", Value: s.HTTP.Proxy})
		}
	}
	return errors.Join(errs...)
}
