package lsp

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const helperEnv = "YAMLBRIDGE_TEST_SERVER"

// helperConfig runs this test binary as a fake language server.
func helperConfig(mode string) ProcessConfig {
	return ProcessConfig{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestHelperServer"},
		Env:         map[string]string{helperEnv: mode},
		KillTimeout: time.Second,
	}
}

type stdio struct{}

func (stdio) Read(b []byte) (int, error)  { return os.Stdin.Read(b) }
func (stdio) Write(b []byte) (int, error) { return os.Stdout.Write(b) }
func (stdio) Close() error                { return nil }

// TestHelperServer is not a real test. It is the fake server process.
func TestHelperServer(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process")
	}

	fmt.Fprintln(os.Stderr, "fake server starting")

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(stdio{}))
	conn.Go(context.Background(), func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodInitialize:
			return reply(ctx, &protocol.InitializeResult{ServerInfo: &protocol.ServerInfo{Name: "helper"}}, nil)
		case protocol.MethodInitialized:
			if mode == "crash" {
				os.Exit(3)
			}
			return nil
		case protocol.MethodShutdown:
			return reply(ctx, nil, nil)
		case protocol.MethodExit:
			os.Exit(0)
		}
		return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
	})
	<-conn.Done()
	os.Exit(0)
}

func TestProcessConfig_CommandLine(t *testing.T) {
	cfg := ProcessConfig{Command: "node", Args: []string{"server.js", "--stdio"}}
	assert.Equal(t, []string{"node", "server.js", "--stdio"}, cfg.CommandLine())

	cfg.Debug = true
	assert.Equal(t, []string{"node", "server.js", "--stdio", "--nolazy", "--inspect=6009"}, cfg.CommandLine())

	cfg.DebugArgs = []string{"--inspect-brk=9229"}
	assert.Equal(t, []string{"node", "server.js", "--stdio", "--inspect-brk=9229"}, cfg.CommandLine())
}

func TestStartProcess_NoCommand(t *testing.T) {
	_, err := StartProcess(context.Background(), ProcessConfig{}, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestStartProcess_MissingBinary(t *testing.T) {
	_, err := StartProcess(context.Background(), ProcessConfig{Command: "/nonexistent/yaml-language-server"}, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestStartProcess_Session(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	proc, err := StartProcess(context.Background(), helperConfig("serve"), logger)
	require.NoError(t, err)
	assert.NotZero(t, proc.Pid())

	sess := NewStreamSession(proc, WithLogger(logger), WithTimeout(testTimeout))
	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, "helper", sess.ServerInfo().Name)

	require.NoError(t, sess.Dispose(context.Background()))

	select {
	case <-proc.Exited():
	case <-time.After(testTimeout):
		t.Fatal("server process did not exit")
	}
	assert.Equal(t, 1, logs.FilterMessage("fake server starting").Len(), "stderr is forwarded to the log")
}

func TestStartProcess_Crash(t *testing.T) {
	proc, err := StartProcess(context.Background(), helperConfig("crash"), zap.NewNop())
	require.NoError(t, err)

	sess := NewStreamSession(proc, WithTimeout(testTimeout))
	defer sess.Dispose(context.Background())
	require.NoError(t, sess.Start(context.Background()))

	select {
	case <-sess.Done():
	case <-time.After(testTimeout):
		t.Fatal("crash not detected")
	}
	assert.ErrorIs(t, sess.Err(), ErrServerCrashed)
	assert.Error(t, proc.ExitErr())
}
