package app

import (
	"context"
	"fmt"
	"net/url"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/lsp"
	"github.com/dshills/yamlbridge/internal/worker"
)

// ServerScriptPath is the worker entry point inside an installed
// yaml-language-server package.
const ServerScriptPath = "node_modules/yaml-language-server/out/server/src/webworker/yamlServerMain.js"

// ServerScriptURL returns the worker script URL under an extension root URL.
func ServerScriptURL(extensionRoot string) (string, error) {
	u, err := url.JoinPath(extensionRoot, ServerScriptPath)
	if err != nil {
		return "", fmt.Errorf("server script url: %w", err)
	}
	return u, nil
}

// WorkerTransport runs the server in a worker created by platform. Each
// session gets a new worker.
func WorkerTransport(platform worker.Platform, serverURL string, logger *zap.Logger) Transport {
	p := worker.NewProvisioner(platform, logger)
	return func(context.Context) (jsonrpc2.Stream, error) {
		ch := p.CreateChannel(serverURL)
		if ch == nil {
			return nil, fmt.Errorf("%w: no worker could run %s", lsp.ErrTransport, serverURL)
		}
		return ch, nil
	}
}
