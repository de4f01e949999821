package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSchema(uri string) SchemaRequestFunc {
	return func(context.Context, string) (string, error) { return uri, nil }
}

func staticContent(text string) SchemaContentFunc {
	return func(context.Context, string) (string, error) { return text, nil }
}

func TestSchemaExtensionAPI_Register(t *testing.T) {
	api := NewSchemaExtensionAPI()

	assert.True(t, api.RegisterContributor("kube", staticSchema(""), staticContent("")))
	assert.False(t, api.RegisterContributor("kube", staticSchema(""), staticContent("")), "duplicate scheme")
	assert.False(t, api.RegisterContributor("", staticSchema(""), staticContent("")))
	assert.False(t, api.RegisterContributor("x", nil, staticContent("")))
	assert.False(t, api.RegisterContributor("x", staticSchema(""), nil))
	assert.True(t, api.RegisterContributor("helm", staticSchema(""), staticContent("")))

	assert.Equal(t, []string{"kube", "helm"}, api.Schemes())

	assert.True(t, api.UnregisterContributor("kube"))
	assert.False(t, api.UnregisterContributor("kube"))
	assert.Equal(t, []string{"helm"}, api.Schemes())
}

func TestSchemaExtensionAPI_RequestCustomSchema(t *testing.T) {
	api := NewSchemaExtensionAPI()

	got, err := api.RequestCustomSchema(context.Background(), "file:///a.yaml")
	require.NoError(t, err)
	assert.Empty(t, got)

	api.RegisterContributor("none", staticSchema(""), staticContent(""))
	api.RegisterContributor("first", staticSchema("first://schema"), staticContent(""))
	api.RegisterContributor("second", staticSchema("second://schema"), staticContent(""))

	got, err = api.RequestCustomSchema(context.Background(), "file:///a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "first://schema", got)
}

func TestSchemaExtensionAPI_RequestCustomSchemaError(t *testing.T) {
	api := NewSchemaExtensionAPI()
	boom := errors.New("boom")
	api.RegisterContributor("bad", func(context.Context, string) (string, error) { return "", boom }, staticContent(""))

	_, err := api.RequestCustomSchema(context.Background(), "file:///a.yaml")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "contributor bad")
}

func TestSchemaExtensionAPI_RequestCustomSchemaContent(t *testing.T) {
	api := NewSchemaExtensionAPI()
	var gotURI string
	api.RegisterContributor("kube", staticSchema(""), func(_ context.Context, uri string) (string, error) {
		gotURI = uri
		return `{"type":"object"}`, nil
	})

	content, err := api.RequestCustomSchemaContent(context.Background(), "KUBE://deployment")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"object"}`, content)
	assert.Equal(t, "KUBE://deployment", gotURI)

	_, err = api.RequestCustomSchemaContent(context.Background(), "helm://chart")
	assert.ErrorIs(t, err, ErrNoContributor)

	_, err = api.RequestCustomSchemaContent(context.Background(), "no-scheme")
	assert.ErrorIs(t, err, ErrNoContributor)
}
