//go:build js && wasm

package app

import (
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/worker"
)

// BrowserTransport runs the server in a Web Worker, falling back to a
// same-origin blob script when the direct worker is refused.
func BrowserTransport(serverURL string, logger *zap.Logger) Transport {
	return WorkerTransport(worker.NewBrowserPlatform(), serverURL, logger)
}
