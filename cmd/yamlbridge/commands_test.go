package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/yamlbridge/internal/config"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "yamlbridge dev")
	assert.Contains(t, out, "commit: unknown")
}

func TestAssociationsCmd(t *testing.T) {
	extDir := t.TempDir()
	ext := filepath.Join(extDir, "acme.kube")
	require.NoError(t, os.MkdirAll(ext, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ext, "package.json"), []byte(`{
		"name": "kube", "publisher": "acme",
		"contributes": {"yamlValidation": [
			{"fileMatch": "*.k8s.yaml", "url": "https://schemas.example/k8s.json"}
		]}
	}`), 0o644))
	broken := filepath.Join(extDir, "broken")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "package.json"), []byte(`{`), 0o644))

	out, errOut, err := execute(t,
		"--config", filepath.Join(t.TempDir(), "missing.toml"),
		"--extensions", extDir,
		"associations")
	require.NoError(t, err)

	var got map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string][]string{
		"/*.k8s.yaml": {"https://schemas.example/k8s.json"},
	}, got)
	assert.Contains(t, errOut, "skipped "+broken)
}

func TestRunCmd_InvalidSettings(t *testing.T) {
	_, _, err := execute(t,
		"--config", filepath.Join(t.TempDir(), "missing.toml"),
		"--log-format", "xml",
		"run")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrValidationFailed)
}

func TestRun_ExitCode(t *testing.T) {
	assert.Equal(t, 0, run([]string{"version"}))
	assert.Equal(t, 1, run([]string{"no-such-command"}))
}
