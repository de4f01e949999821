package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebugArgs are appended to the server arguments in debug mode so a
// Node-hosted server can be attached to with an inspector.
var DefaultDebugArgs = []string{"--nolazy", "--inspect=6009"}

// ProcessConfig defines how to start the language server process.
type ProcessConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Debug appends DebugArgs (or DefaultDebugArgs when empty).
	Debug     bool
	DebugArgs []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory.
	WorkDir string

	// KillTimeout is how long Close waits for the process to exit after
	// closing its stdin. Default: 2 seconds.
	KillTimeout time.Duration
}

// CommandLine returns the argument vector the process is started with.
func (c ProcessConfig) CommandLine() []string {
	args := append([]string{c.Command}, c.Args...)
	if c.Debug {
		debug := c.DebugArgs
		if len(debug) == 0 {
			debug = DefaultDebugArgs
		}
		args = append(args, debug...)
	}
	return args
}

// ProcessChannel is the stdio of a language server subprocess as an
// io.ReadWriteCloser. Stderr lines are forwarded to the logger.
type ProcessChannel struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *zap.Logger

	killTimeout time.Duration

	exited    chan struct{}
	exitErr   error
	closeOnce sync.Once
}

// StartProcess starts the server described by cfg.
func StartProcess(ctx context.Context, cfg ProcessConfig, logger *zap.Logger) (*ProcessChannel, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no server command configured", ErrTransport)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	argv := cfg.CommandLine()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	// Set environment
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Dir = cfg.WorkDir

	// Get pipes
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrTransport, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrTransport, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrTransport, err)
	}

	// Start process
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrTransport, cfg.Command, err)
	}

	killTimeout := cfg.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 2 * time.Second
	}

	p := &ProcessChannel{
		cmd:         cmd,
		stdin:       stdin,
		stdout:      stdout,
		logger:      logger.With(zap.Int("pid", cmd.Process.Pid)),
		killTimeout: killTimeout,
		exited:      make(chan struct{}),
	}

	p.logger.Info("server process started", zap.Strings("argv", argv))

	// The stderr pipe must be drained before Wait.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		p.forwardStderr(stderr)
	}()
	go func() {
		<-stderrDone
		p.exitErr = cmd.Wait()
		close(p.exited)
		p.logger.Info("server process exited", zap.Error(p.exitErr))
	}()

	return p, nil
}

func (p *ProcessChannel) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Info(scanner.Text(), zap.String("stream", "stderr"))
	}
}

// Read reads from the server's stdout.
func (p *ProcessChannel) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Write writes to the server's stdin.
func (p *ProcessChannel) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Close closes stdin and waits for the process to exit, killing it after
// the kill timeout.
func (p *ProcessChannel) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()

		select {
		case <-p.exited:
		case <-time.After(p.killTimeout):
			p.logger.Warn("server did not exit, killing")
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Debug("kill failed", zap.Error(err))
			}
			<-p.exited
		}
	})
	return nil
}

// Exited is closed when the process has exited.
func (p *ProcessChannel) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the process exit error. Valid after Exited is closed.
func (p *ProcessChannel) ExitErr() error {
	<-p.exited
	return p.exitErr
}

// Pid returns the process id.
func (p *ProcessChannel) Pid() int {
	return p.cmd.Process.Pid
}
