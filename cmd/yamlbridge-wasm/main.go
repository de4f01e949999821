//go:build js && wasm

// Command yamlbridge-wasm runs the bridge in a browser. The page provides
// its configuration in globalThis.yamlbridgeConfig:
//
//	{
//	  "extensionRoot": "https://cdn.example/redhat.vscode-yaml/",
//	  "workerURL": "",
//	  "logLevel": "info",
//	  "yaml": {"validate": true},
//	  "extensions": [{"id": "acme.kube", "rootURI": "https://cdn.example/kube/", "metadata": {...}}]
//	}
//
// Once activated, globalThis.yamlbridge exposes registerContributor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/app"
	"github.com/dshills/yamlbridge/internal/bridge"
	"github.com/dshills/yamlbridge/internal/config"
	"github.com/dshills/yamlbridge/internal/extension"
	"github.com/dshills/yamlbridge/internal/fetch"
)

var version = "dev"

type pageExtension struct {
	ID       string          `json:"id"`
	RootURI  string          `json:"rootURI"`
	Metadata json.RawMessage `json:"metadata"`
}

type pageConfig struct {
	ExtensionRoot string          `json:"extensionRoot"`
	WorkerURL     string          `json:"workerURL"`
	LogLevel      string          `json:"logLevel"`
	YAML          map[string]any  `json:"yaml"`
	Extensions    []pageExtension `json:"extensions"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "yamlbridge: %v\n", err)
		os.Exit(1)
	}
	select {}
}

func readPageConfig() (pageConfig, error) {
	var cfg pageConfig
	raw := js.Global().Get("yamlbridgeConfig")
	if raw.IsUndefined() || raw.IsNull() {
		return cfg, fmt.Errorf("globalThis.yamlbridgeConfig is not set")
	}
	text := js.Global().Get("JSON").Call("stringify", raw).String()
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		return cfg, fmt.Errorf("decode yamlbridgeConfig: %w", err)
	}
	return cfg, nil
}

func run() error {
	page, err := readPageConfig()
	if err != nil {
		return err
	}

	level := zap.NewAtomicLevelAt(app.ParseLogLevel(page.LogLevel))
	logger, err := app.NewLogger(app.LoggerConfig{Level: level, Format: "console"})
	if err != nil {
		return err
	}

	serverURL := page.WorkerURL
	if serverURL == "" {
		if serverURL, err = app.ServerScriptURL(page.ExtensionRoot); err != nil {
			return err
		}
	}

	settings := config.Default()
	settings.Server.Command = ""
	settings.Server.WorkerURL = serverURL
	settings.Watch.Enabled = false
	settings.Extensions.Watch = false
	if page.YAML != nil {
		settings.YAML = page.YAML
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	descs := make([]extension.Descriptor, 0, len(page.Extensions))
	for _, e := range page.Extensions {
		descs = append(descs, extension.NewDescriptor(e.ID, e.RootURI, e.Metadata))
	}

	application, err := app.New(app.Options{
		Store:         config.NewStaticStore(settings),
		WorkspacePath: "/",
		Logger:        logger,
		LogLevel:      level,
		Transport:     app.BrowserTransport(serverURL, logger.Named("worker")),
		Fetcher:       fetch.NewBrowserFetcher(),
		Extensions:    extension.NewRegistry(extension.WithStatic(descs...)),
		Version:       version,
	})
	if err != nil {
		return err
	}

	api, err := application.Activate(context.Background())
	if err != nil {
		return err
	}
	js.Global().Set("yamlbridge", exportAPI(api))

	go func() {
		if err := application.Run(context.Background()); err != nil {
			logger.Error("bridge stopped", zap.Error(err))
		}
	}()
	return nil
}

// exportAPI exposes registerContributor(scheme, requestSchema,
// requestSchemaContent) to page scripts. The callbacks must return a
// string synchronously; null or undefined means no answer.
func exportAPI(api *bridge.SchemaExtensionAPI) js.Value {
	obj := js.Global().Get("Object").New()
	obj.Set("registerContributor", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) < 3 || args[0].Type() != js.TypeString ||
			args[1].Type() != js.TypeFunction || args[2].Type() != js.TypeFunction {
			return false
		}
		return api.RegisterContributor(args[0].String(), callback(args[1]), callback(args[2]))
	}))
	return obj
}

func callback(fn js.Value) func(context.Context, string) (string, error) {
	return func(_ context.Context, arg string) (string, error) {
		v := fn.Invoke(arg)
		if v.Type() != js.TypeString {
			return "", nil
		}
		return v.String(), nil
	}
}
