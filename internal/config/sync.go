package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/lsp"
)

// Notifier sends notifications to the language server.
type Notifier interface {
	Notify(ctx context.Context, method string, params any) error
}

// Session is what the Syncer binds to.
type Session interface {
	lsp.Registrar
	Notifier
	OnReady(fn func(ctx context.Context))
}

var _ Session = (*lsp.Session)(nil)

// Syncer keeps the server's view of the synced sections current.
type Syncer struct {
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	notifier Notifier
	unsub    func()
}

// NewSyncer creates a Syncer that pushes on every store change.
func NewSyncer(store *Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	y := &Syncer{store: store, logger: logger}
	y.unsub = store.Subscribe(func(Change) {
		if err := y.Push(context.Background()); err != nil {
			y.logger.Warn("configuration push failed", zap.Error(err))
		}
	})
	return y
}

// Bind registers the workspace/configuration handler on s and starts
// pushing to it once it is Ready.
func (y *Syncer) Bind(s Session) {
	s.Handle(protocol.MethodWorkspaceConfiguration, y.configuration)
	s.OnReady(func(ctx context.Context) {
		if err := y.Start(ctx, s); err != nil {
			y.logger.Warn("initial configuration push failed", zap.Error(err))
		}
	})
}

// Start makes n the push target and sends the current settings.
func (y *Syncer) Start(ctx context.Context, n Notifier) error {
	y.mu.Lock()
	y.notifier = n
	y.mu.Unlock()
	return y.Push(ctx)
}

// Push sends workspace/didChangeConfiguration with the current synced
// sections. It is a no-op before Start.
func (y *Syncer) Push(ctx context.Context) error {
	y.mu.Lock()
	n := y.notifier
	y.mu.Unlock()
	if n == nil {
		return nil
	}

	payload, err := y.store.Settings().Payload()
	if err != nil {
		return err
	}
	params := &protocol.DidChangeConfigurationParams{Settings: json.RawMessage(payload)}
	if err := n.Notify(ctx, protocol.MethodWorkspaceDidChangeConfiguration, params); err != nil {
		return fmt.Errorf("send configuration: %w", err)
	}
	return nil
}

// Close stops pushing on store changes.
func (y *Syncer) Close() {
	y.mu.Lock()
	y.notifier = nil
	y.mu.Unlock()
	y.unsub()
}

// configuration answers one value per requested item, null for sections
// that do not exist.
func (y *Syncer) configuration(_ context.Context, raw json.RawMessage) (any, error) {
	var params protocol.ConfigurationParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
	}

	settings := y.store.Settings()
	result := make([]any, len(params.Items))
	for i, item := range params.Items {
		v, err := settings.Section(item.Section)
		if err != nil {
			y.logger.Debug("configuration section not found", zap.String("section", item.Section))
			continue
		}
		result[i] = v
	}
	return result, nil
}
