package luaext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/yamlbridge/internal/extension"
)

// ContributionPath is where extensions declare Lua contributors.
const ContributionPath = "contributes.yamlSchemaContributors"

// Global function names a contributor script defines.
const (
	FuncRequestSchema = "request_schema"
	FuncSchemaContent = "schema_content"
)

// Declaration is one manifest entry.
type Declaration struct {
	Scheme string
	Script string
}

// Declarations returns the well-formed contributor entries of desc.
// Entries without a string scheme and script are skipped.
func Declarations(desc extension.Descriptor) []Declaration {
	list := desc.Get(ContributionPath)
	if !list.IsArray() {
		return nil
	}

	var out []Declaration
	list.ForEach(func(_, entry gjson.Result) bool {
		scheme, script := entry.Get("scheme"), entry.Get("script")
		if scheme.Type == gjson.String && script.Type == gjson.String && scheme.Str != "" && script.Str != "" {
			out = append(out, Declaration{Scheme: scheme.Str, Script: script.Str})
		}
		return true
	})
	return out
}

// Contributor is a loaded Lua schema contributor.
type Contributor struct {
	Scheme      string
	ExtensionID string

	state *State
}

// Load compiles the script for decl from the extension's install directory.
func Load(ctx context.Context, desc extension.Descriptor, decl Declaration, logger *zap.Logger, opts ...StateOption) (*Contributor, error) {
	if desc.Path() == "" {
		return nil, fmt.Errorf("extension %s is not installed on disk", desc.ID)
	}

	path := filepath.Join(desc.Path(), filepath.FromSlash(strings.TrimPrefix(decl.Script, "./")))
	if rel, err := filepath.Rel(desc.Path(), path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("script %s escapes extension %s", decl.Script, desc.ID)
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contributor script: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("extension", desc.ID), zap.String("scheme", decl.Scheme))

	state := NewState(opts...)
	err = state.RegisterModule("yamlbridge", map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			logger.Info(L.CheckString(1))
			return 0
		},
	}, map[string]string{
		"extension_id": desc.ID,
		"scheme":       decl.Scheme,
	})
	if err == nil {
		err = state.DoString(ctx, string(code))
	}
	if err == nil {
		for _, fn := range []string{FuncRequestSchema, FuncSchemaContent} {
			if !state.HasFunction(fn) {
				err = fmt.Errorf("%w: %s", ErrMissingFunction, fn)
				break
			}
		}
	}
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("load %s: %w", decl.Script, err)
	}

	return &Contributor{Scheme: decl.Scheme, ExtensionID: desc.ID, state: state}, nil
}

// RequestSchema calls the script's request_schema.
func (c *Contributor) RequestSchema(ctx context.Context, resource string) (string, error) {
	return c.state.CallString(ctx, FuncRequestSchema, resource)
}

// SchemaContent calls the script's schema_content.
func (c *Contributor) SchemaContent(ctx context.Context, uri string) (string, error) {
	content, err := c.state.CallString(ctx, FuncSchemaContent, uri)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", errors.New("no content for " + uri)
	}
	return content, nil
}

// Close releases the Lua state.
func (c *Contributor) Close() error {
	return c.state.Close()
}
