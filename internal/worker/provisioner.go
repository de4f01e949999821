package worker

import (
	"fmt"

	"go.uber.org/zap"
)

// ScriptMIMEType is the content type of the fallback script.
const ScriptMIMEType = "application/javascript"

// ImportScript returns the body of the fallback script for url.
func ImportScript(url string) string {
	return "importScripts('" + url + "');"
}

// Provisioner creates worker channels.
type Provisioner struct {
	platform Platform
	logger   *zap.Logger
}

// NewProvisioner creates a provisioner on platform.
func NewProvisioner(platform Platform, logger *zap.Logger) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{platform: platform, logger: logger}
}

// CreateChannel starts the server script at serverURL and returns a channel
// to it, or nil when neither the direct nor the fallback route works.
//
// If the direct worker reports an error later, the channel swaps it for a
// fallback worker and suppresses the error.
func (p *Provisioner) CreateChannel(serverURL string) *Channel {
	fallback := func() (Worker, error) {
		return p.createFallback(serverURL)
	}

	w, err := p.platform.NewWorker(serverURL)
	if err != nil {
		p.logger.Debug("direct worker failed, using fallback", zap.String("url", serverURL), zap.Error(err))
		w, err = fallback()
		if err != nil {
			p.logger.Error("cannot create worker", zap.String("url", serverURL), zap.Error(err))
			return nil
		}
		return newChannel(w, nil, p.logger)
	}

	return newChannel(w, fallback, p.logger)
}

// createFallback starts a worker from a blob URL that imports serverURL.
func (p *Provisioner) createFallback(serverURL string) (Worker, error) {
	blobURL, err := p.platform.NewScriptURL(ImportScript(serverURL), ScriptMIMEType)
	if err != nil {
		return nil, fmt.Errorf("create fallback script: %w", err)
	}

	w, err := p.platform.NewWorker(blobURL)
	if err != nil {
		return nil, fmt.Errorf("start fallback worker: %w", err)
	}
	return w, nil
}
