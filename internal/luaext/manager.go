package luaext

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/bridge"
	"github.com/dshills/yamlbridge/internal/extension"
)

// Manager keeps the API's Lua contributors in step with the installed
// extensions.
type Manager struct {
	api    *bridge.SchemaExtensionAPI
	logger *zap.Logger
	opts   []StateOption

	mu     sync.Mutex
	active map[string]*Contributor // by scheme
}

// NewManager creates a manager registering into api.
func NewManager(api *bridge.SchemaExtensionAPI, logger *zap.Logger, opts ...StateOption) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		api:    api,
		logger: logger,
		opts:   opts,
		active: make(map[string]*Contributor),
	}
}

// Sync loads contributors declared by exts and unregisters those whose
// extension no longer declares them. Schemes already taken by another
// registrant are skipped with a warning.
func (m *Manager) Sync(ctx context.Context, exts []extension.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool)
	for _, desc := range exts {
		for _, decl := range Declarations(desc) {
			if wanted[decl.Scheme] {
				m.logger.Warn("duplicate Lua contributor scheme", zap.String("scheme", decl.Scheme), zap.String("extension", desc.ID))
				continue
			}
			wanted[decl.Scheme] = true

			if cur, ok := m.active[decl.Scheme]; ok && cur.ExtensionID == desc.ID {
				continue
			}
			m.remove(decl.Scheme)

			c, err := Load(ctx, desc, decl, m.logger, m.opts...)
			if err != nil {
				m.logger.Warn("skipping Lua contributor", zap.String("extension", desc.ID), zap.Error(err))
				continue
			}
			if !m.api.RegisterContributor(c.Scheme, c.RequestSchema, c.SchemaContent) {
				m.logger.Warn("schema contributor scheme already registered", zap.String("scheme", c.Scheme))
				c.Close()
				continue
			}
			m.active[c.Scheme] = c
			m.logger.Info("registered Lua contributor", zap.String("scheme", c.Scheme), zap.String("extension", c.ExtensionID))
		}
	}

	for scheme := range m.active {
		if !wanted[scheme] {
			m.remove(scheme)
		}
	}
}

// remove unregisters and closes the contributor for scheme. m.mu is held.
func (m *Manager) remove(scheme string) {
	c, ok := m.active[scheme]
	if !ok {
		return
	}
	m.api.UnregisterContributor(scheme)
	c.Close()
	delete(m.active, scheme)
}

// Len returns the number of active contributors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close unregisters every contributor.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for scheme := range m.active {
		m.remove(scheme)
	}
	return nil
}
