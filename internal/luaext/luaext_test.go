package luaext

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/yamlbridge/internal/bridge"
	"github.com/dshills/yamlbridge/internal/extension"
)

const kubeScript = `
local prefix = yamlbridge.scheme .. "://"

function request_schema(resource)
  if string.find(resource, "deploy", 1, true) then
    return prefix .. "deployment"
  end
  return nil
end

function schema_content(uri)
  yamlbridge.log("serving " .. uri)
  return '{"title":"' .. uri .. '","x-extension":"' .. yamlbridge.extension_id .. '"}'
end
`

// writeExtension creates an extension directory with the given manifest
// and files and loads its descriptor.
func writeExtension(t *testing.T, manifest string, files map[string]string) extension.Descriptor {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(manifest), 0o644))
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	desc, err := extension.LoadManifestFromDir(dir)
	require.NoError(t, err)
	return desc
}

func kubeExtension(t *testing.T) extension.Descriptor {
	return writeExtension(t, `{
		"name": "kube", "publisher": "acme",
		"contributes": {"yamlSchemaContributors": [{"scheme": "kube", "script": "./contrib/kube.lua"}]}
	}`, map[string]string{"contrib/kube.lua": kubeScript})
}

func TestDeclarations(t *testing.T) {
	desc := extension.NewDescriptor("x", "ext://x/", []byte(`{"contributes":{"yamlSchemaContributors":[
		{"scheme":"a","script":"./a.lua"},
		{"scheme":"","script":"./b.lua"},
		{"scheme":"c"},
		{"scheme":1,"script":"./d.lua"},
		"junk",
		{"scheme":"e","script":"e.lua"}
	]}}`))

	assert.Equal(t, []Declaration{
		{Scheme: "a", Script: "./a.lua"},
		{Scheme: "e", Script: "e.lua"},
	}, Declarations(desc))

	assert.Empty(t, Declarations(extension.NewDescriptor("y", "ext://y/", []byte(`{"name":"y"}`))))
}

func TestContributor(t *testing.T) {
	desc := kubeExtension(t)
	c, err := Load(context.Background(), desc, Declarations(desc)[0], zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "kube", c.Scheme)
	assert.Equal(t, "acme.kube", c.ExtensionID)

	got, err := c.RequestSchema(context.Background(), "file:///work/deploy.yaml")
	require.NoError(t, err)
	assert.Equal(t, "kube://deployment", got)

	got, err = c.RequestSchema(context.Background(), "file:///work/values.yaml")
	require.NoError(t, err)
	assert.Empty(t, got)

	content, err := c.SchemaContent(context.Background(), "kube://deployment")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"kube://deployment","x-extension":"acme.kube"}`, content)

	require.NoError(t, c.Close())
	_, err = c.RequestSchema(context.Background(), "file:///x")
	assert.ErrorIs(t, err, ErrStateClosed)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		decl   Declaration
		want   error
		substr string
	}{
		{
			name:   "missing function",
			script: `function request_schema(r) return nil end`,
			want:   ErrMissingFunction,
		},
		{
			name:   "syntax error",
			script: `function request_schema(`,
			substr: "load ./c.lua",
		},
		{
			name:   "io is not available",
			script: `local f = io.open("/etc/passwd")`,
			substr: "load ./c.lua",
		},
		{
			name:   "dofile is removed",
			script: `dofile("/tmp/x.lua")`,
			substr: "load ./c.lua",
		},
		{
			name:   "escaping script path",
			decl:   Declaration{Scheme: "c", Script: "../outside.lua"},
			substr: "escapes",
		},
		{
			name:   "missing script",
			decl:   Declaration{Scheme: "c", Script: "./nope.lua"},
			substr: "read contributor script",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := writeExtension(t, `{"name":"c"}`, map[string]string{"c.lua": tt.script})
			decl := tt.decl
			if decl.Scheme == "" {
				decl = Declaration{Scheme: "c", Script: "./c.lua"}
			}

			_, err := Load(context.Background(), desc, decl, nil)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.substr != "" {
				assert.Contains(t, err.Error(), tt.substr)
			}
		})
	}
}

func TestLoad_NotOnDisk(t *testing.T) {
	desc := extension.NewDescriptor("web", "https://cdn/web/", []byte(`{"name":"web"}`))
	_, err := Load(context.Background(), desc, Declaration{Scheme: "w", Script: "./w.lua"}, nil)
	assert.ErrorContains(t, err, "not installed on disk")
}

func TestContributor_BadResultAndTimeout(t *testing.T) {
	desc := writeExtension(t, `{"name":"slow"}`, map[string]string{"s.lua": `
function request_schema(r) return 42 end
function schema_content(u)
  while true do end
end
`})

	c, err := Load(context.Background(), desc, Declaration{Scheme: "slow", Script: "s.lua"}, nil, WithCallTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.RequestSchema(context.Background(), "file:///a.yaml")
	assert.ErrorIs(t, err, ErrBadResult)

	start := time.Now()
	_, err = c.SchemaContent(context.Background(), "slow://x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestManager_Sync(t *testing.T) {
	api := bridge.NewSchemaExtensionAPI()
	m := NewManager(api, zaptest.NewLogger(t))
	defer m.Close()

	kube := kubeExtension(t)
	broken := writeExtension(t, `{
		"name": "broken",
		"contributes": {"yamlSchemaContributors": [{"scheme": "broken", "script": "./b.lua"}]}
	}`, map[string]string{"b.lua": `function request_schema(`})

	// A scheme registered by someone else is left alone.
	require.True(t, api.RegisterContributor("taken",
		func(context.Context, string) (string, error) { return "", nil },
		func(context.Context, string) (string, error) { return "", nil }))
	taken := writeExtension(t, `{
		"name": "taken",
		"contributes": {"yamlSchemaContributors": [{"scheme": "taken", "script": "./t.lua"}]}
	}`, map[string]string{"t.lua": kubeScript})

	m.Sync(context.Background(), []extension.Descriptor{kube, broken, taken})
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, []string{"taken", "kube"}, api.Schemes())

	got, err := api.RequestCustomSchema(context.Background(), "file:///deploy.yaml")
	require.NoError(t, err)
	assert.Equal(t, "kube://deployment", got)

	content, err := api.RequestCustomSchemaContent(context.Background(), "kube://deployment")
	require.NoError(t, err)
	assert.Contains(t, content, "acme.kube")

	// Unchanged extensions keep their contributor.
	m.Sync(context.Background(), []extension.Descriptor{kube})
	assert.Equal(t, 1, m.Len())

	m.Sync(context.Background(), nil)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, []string{"taken"}, api.Schemes())
}
