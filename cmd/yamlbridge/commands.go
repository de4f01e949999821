package main

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/app"
	"github.com/dshills/yamlbridge/internal/config"
	"github.com/dshills/yamlbridge/internal/config/loader"
	"github.com/dshills/yamlbridge/internal/extension"
	"github.com/dshills/yamlbridge/internal/schema"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	workspace  string
	logLevel   string
	logFormat  string
	debug      bool
	extensions []string
}

// loadOptions layers command-line overrides over the environment so they
// survive config reloads.
func (f *globalFlags) loadOptions(cmd *cobra.Command) ([]config.Option, error) {
	environ := os.Environ()
	set := func(name, value string) {
		environ = append(environ, loader.EnvPrefix+name+"="+value)
	}

	if cmd.Flags().Changed("log-level") {
		set("LOG_LEVEL", f.logLevel)
	}
	if cmd.Flags().Changed("log-format") {
		set("LOG_FORMAT", f.logFormat)
	}
	if cmd.Flags().Changed("debug") {
		set("SERVER_DEBUG", fmt.Sprint(f.debug))
	}
	if cmd.Flags().Changed("extensions") {
		paths, err := json.Marshal(f.extensions)
		if err != nil {
			return nil, err
		}
		set("EXTENSIONS_PATHS", string(paths))
	}

	return []config.Option{
		config.WithPath(f.configPath),
		config.WithEnviron(environ),
	}, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "yamlbridge",
		Short: "Connect a YAML language server to installed schema extensions",
		Long: `yamlbridge starts a YAML language server, feeds it the schema
associations declared by installed extensions, and answers its requests
for schema content from the workspace, the network, and Lua contributors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to configuration file (default "+config.DefaultPath()+")")
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "console", "log format: console or json")
	pf.BoolVar(&flags.debug, "debug", false, "start the server with its debug arguments")
	pf.StringSliceVar(&flags.extensions, "extensions", nil, "extension search paths")

	root.AddCommand(
		newRunCmd(flags),
		newAssociationsCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the language server and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, cmd, flags)
		},
	}
}

func runBridge(ctx context.Context, cmd *cobra.Command, flags *globalFlags) error {
	loadOpts, err := flags.loadOptions(cmd)
	if err != nil {
		return err
	}

	// The first load only configures logging; the store loads again with
	// the logger attached.
	initial, err := config.Load(loadOpts...)
	if err != nil {
		return err
	}
	level := zap.NewAtomicLevelAt(app.ParseLogLevel(initial.Log.Level))
	logger, err := app.NewLogger(app.LoggerConfig{
		Level:  level,
		Format: initial.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := config.NewStore(loadOpts, config.WithLogger(logger.Named("config")))
	if err != nil {
		return err
	}

	application, err := app.New(app.Options{
		Store:         store,
		WorkspacePath: flags.workspace,
		Logger:        logger,
		LogLevel:      level,
		Version:       version,
	})
	if err != nil {
		return err
	}

	if _, err := application.Activate(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
		defer cancel()
		application.Shutdown(shutdownCtx) //nolint:errcheck
		return err
	}
	return application.Run(ctx)
}

func newAssociationsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "associations",
		Short: "Print the schema associations of the installed extensions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadOpts, err := flags.loadOptions(cmd)
			if err != nil {
				return err
			}
			settings, err := config.Load(loadOpts...)
			if err != nil {
				return err
			}

			var loaderOpts []extension.LoaderOption
			if len(settings.Extensions.Paths) > 0 {
				loaderOpts = append(loaderOpts, extension.WithPaths(settings.Extensions.Paths...))
			}
			discovery := extension.NewLoader(loaderOpts...)
			exts := discovery.Discover()
			skipped := discovery.Errors()
			for _, dir := range slices.Sorted(maps.Keys(skipped)) {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", dir, skipped[dir])
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(schema.Compute(exts))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "yamlbridge %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", date)
		},
	}
}
