package config

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/yamlbridge/internal/lsp"
	"github.com/dshills/yamlbridge/internal/lsp/lsptest"
)

const testTimeout = 2 * time.Second

type recordingNotifier struct {
	methods []string
	params  []any
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, method string, params any) error {
	n.methods = append(n.methods, method)
	n.params = append(n.params, params)
	return n.err
}

func TestSyncer_PushBeforeStart(t *testing.T) {
	y := NewSyncer(NewStaticStore(Default()), nil)
	defer y.Close()
	assert.NoError(t, y.Push(context.Background()))
}

func TestSyncer_StartAndReload(t *testing.T) {
	path := writeConfig(t, "[yaml]\nvalidate = true\n")
	store, err := NewStore([]Option{WithPath(path), WithoutEnv()})
	require.NoError(t, err)

	y := NewSyncer(store, zaptest.NewLogger(t))
	n := &recordingNotifier{}
	require.NoError(t, y.Start(context.Background(), n))
	require.Len(t, n.methods, 1)
	assert.Equal(t, protocol.MethodWorkspaceDidChangeConfiguration, n.methods[0])

	require.NoError(t, os.WriteFile(path, []byte("[yaml]\nvalidate = false\n"), 0o644))
	_, err = store.Reload()
	require.NoError(t, err)
	require.Len(t, n.methods, 2)

	params := n.params[1].(*protocol.DidChangeConfigurationParams)
	assert.JSONEq(t, `{"yaml":{"validate":false},"http":{"proxy":"","proxyStrictSSL":true}}`, string(params.Settings.(json.RawMessage)))

	y.Close()
	require.NoError(t, os.WriteFile(path, []byte("[yaml]\nvalidate = true\n"), 0o644))
	_, err = store.Reload()
	require.NoError(t, err)
	assert.Len(t, n.methods, 2, "closed syncer must not push")
}

func TestSyncer_NotifyError(t *testing.T) {
	y := NewSyncer(NewStaticStore(Default()), nil)
	defer y.Close()

	err := y.Start(context.Background(), &recordingNotifier{err: lsp.ErrNotReady})
	assert.ErrorIs(t, err, lsp.ErrNotReady)
	assert.Contains(t, err.Error(), "send configuration")
}

func TestSyncer_Session(t *testing.T) {
	s := Default()
	s.YAML = map[string]any{"validate": true, "hover": false}
	s.HTTP.Proxy = "http://proxy:3128"
	y := NewSyncer(NewStaticStore(s), zaptest.NewLogger(t))
	defer y.Close()

	rwc, srv := lsptest.NewPipe(t)
	sess := lsp.NewStreamSession(rwc, lsp.WithLogger(zaptest.NewLogger(t)), lsp.WithTimeout(testTimeout))
	t.Cleanup(func() { sess.Dispose(context.Background()) })

	y.Bind(sess)
	require.NoError(t, sess.Start(context.Background()))

	notes := srv.WaitNotifications(t, protocol.MethodWorkspaceDidChangeConfiguration, 1, testTimeout)
	var params struct {
		Settings map[string]any `json:"settings"`
	}
	require.NoError(t, notes[0].Decode(&params))
	assert.Equal(t, map[string]any{
		"yaml": map[string]any{"validate": true, "hover": false},
		"http": map[string]any{"proxy": "http://proxy:3128", "proxyStrictSSL": true},
	}, params.Settings)

	var result []any
	require.NoError(t, srv.Call(context.Background(), protocol.MethodWorkspaceConfiguration, &protocol.ConfigurationParams{
		Items: []protocol.ConfigurationItem{
			{Section: "yaml"},
			{Section: "http.proxy"},
			{Section: "http.proxyStrictSSL"},
			{Section: "editor"},
		},
	}, &result))
	assert.Equal(t, []any{
		map[string]any{"validate": true, "hover": false},
		"http://proxy:3128",
		true,
		nil,
	}, result)
}
