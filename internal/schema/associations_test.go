package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/yamlbridge/internal/extension"
)

func ext(id, root, metadata string) extension.Descriptor {
	return extension.NewDescriptor(id, root, []byte(metadata))
}

func TestCompute_TwoExtensionsKeepDiscoveryOrder(t *testing.T) {
	exts := []extension.Descriptor{
		ext("a", "ext://a/", `{"contributes":{"yamlValidation":[{"fileMatch":"/a.yaml","url":"http://s/a.json"}]}}`),
		ext("b", "ext://b/", `{"contributes":{"yamlValidation":[{"fileMatch":"/a.yaml","url":"http://s/b.json"}]}}`),
	}

	got := Compute(exts)

	assert.Equal(t, Associations{"/a.yaml": {"http://s/a.json", "http://s/b.json"}}, got)
}

func TestCompute_Deterministic(t *testing.T) {
	exts := []extension.Descriptor{
		ext("a", "file:///ext/a", `{"contributes":{"yamlValidation":[
			{"fileMatch":"*.k8s.yaml","url":"./k8s.json"},
			{"fileMatch":"%APP_SETTINGS_HOME%/settings.yaml","url":"https://x/settings.json"},
			{"fileMatch":"*.k8s.yaml","url":"./k8s.json"}
		]}}`),
		ext("b", "file:///ext/b", `{"contributes":{"yamlValidation":[{"fileMatch":"compose.yml","url":"https://x/c.json"}]}}`),
	}

	first := Compute(exts)
	second := Compute(exts)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"file:///ext/a/k8s.json", "file:///ext/a/k8s.json"}, first["/*.k8s.yaml"])
}

func TestCompute_MalformedEntriesDropped(t *testing.T) {
	exts := []extension.Descriptor{
		ext("a", "ext://a/", `{"contributes":{"yamlValidation":[
			{"fileMatch":"/ok.yaml","url":"http://s/ok.json"},
			{"fileMatch":"/no-url.yaml"},
			{"fileMatch":42,"url":"http://s/num.json"},
			{"fileMatch":"/arr.yaml","url":["http://s/x.json"]},
			"not an object",
			{"fileMatch":"/ok2.yaml","url":"http://s/ok2.json"}
		]}}`),
		ext("b", "ext://b/", `{"contributes":{"yamlValidation":{"fileMatch":"/obj.yaml","url":"http://s/obj.json"}}}`),
		ext("c", "ext://c/", `{"name":"c"}`),
	}

	got := Compute(exts)

	assert.Equal(t, Associations{
		"/ok.yaml":  {"http://s/ok.json"},
		"/ok2.yaml": {"http://s/ok2.json"},
	}, got)
}

func TestNormalizeFileMatch(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"%APP_SETTINGS_HOME%/settings.yaml", "/User/settings.yaml"},
		{"%APP_WORKSPACES_HOME%/*/workspace.yaml", "/Workspaces/*/workspace.yaml"},
		{"%APP_SETTINGS_HOME%/a/%APP_SETTINGS_HOME%", "/User/a/%APP_SETTINGS_HOME%"},
		{"%UNKNOWN%/x.yaml", "%UNKNOWN%/x.yaml"},
		{"/already/rooted.yaml", "/already/rooted.yaml"},
		{"https://host/*.yaml", "https://host/*.yaml"},
		{"vscode-userdata://x.yaml", "vscode-userdata://x.yaml"},
		{"docker-compose.yml", "/docker-compose.yml"},
		{"**/*.k8s.yaml", "/**/*.k8s.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFileMatch(tt.in))
		})
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name string
		root string
		ref  string
		want string
	}{
		{"root with slash", "ext://x/", "./foo.json", "ext://x/foo.json"},
		{"root without slash", "ext://x", "./foo.json", "ext://x/foo.json"},
		{"file root", "file:///home/me/ext", "./schemas/a.json", "file:///home/me/ext/schemas/a.json"},
		{"nested root with slash", "https://cdn/ext/1.0/", "./s.json", "https://cdn/ext/1.0/s.json"},
		{"absolute url unchanged", "ext://x/", "https://s/a.json", "https://s/a.json"},
		{"parent ref unchanged", "ext://x/", "../a.json", "../a.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveURL(tt.root, tt.ref))
		})
	}
}

func TestContributions(t *testing.T) {
	d := ext("a", "ext://a/", `{"contributes":{"yamlValidation":[{"fileMatch":"x.yaml","url":"./x.json"},{"url":"./y.json"}]}}`)

	got := Contributions(d)

	require.Len(t, got, 1)
	assert.Equal(t, Contribution{FileMatch: "x.yaml", URL: "./x.json"}, got[0])
}

func TestAssociations_CloneAndJSON(t *testing.T) {
	a := Associations{"/a.yaml": {"u1"}}
	b := a.Clone()
	b["/a.yaml"][0] = "changed"

	assert.Equal(t, "u1", a["/a.yaml"][0])

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"/a.yaml":["u1"]}`, string(data))
}
