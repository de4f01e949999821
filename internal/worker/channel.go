package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
)

// ErrClosed is returned by Write after the channel is closed.
var ErrClosed = errors.New("worker channel closed")

// Channel is a jsonrpc2.Stream over a worker's message port.
type Channel struct {
	logger *zap.Logger

	mu       sync.Mutex
	worker   Worker
	fallback func() (Worker, error)
	err      error

	// queue holds received messages; receive never blocks because it runs
	// on the platform's event loop.
	queue     [][]byte
	pending   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ jsonrpc2.Stream = (*Channel)(nil)

func newChannel(w Worker, fallback func() (Worker, error), logger *zap.Logger) *Channel {
	c := &Channel{
		logger:   logger,
		fallback: fallback,
		pending:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	c.attach(w)
	return c
}

// attach makes w the active worker. Errors from a worker that still has a
// fallback trigger the swap; errors from the last resort are only logged.
func (c *Channel) attach(w Worker) {
	c.mu.Lock()
	c.worker = w
	replaceable := c.fallback != nil
	c.mu.Unlock()

	w.OnMessage(c.receive)

	if !replaceable {
		w.OnError(func() bool {
			c.logger.Warn("worker reported an error")
			return false
		})
		return
	}

	var once sync.Once
	w.OnError(func() bool {
		once.Do(func() { go c.replace(w) })
		return true
	})
}

func (c *Channel) receive(data []byte) {
	msg := append([]byte(nil), data...)

	c.mu.Lock()
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.pending <- struct{}{}:
	default:
	}
}

func (c *Channel) next() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	data := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return data, true
}

// replace swaps a failed worker for the fallback worker.
func (c *Channel) replace(failed Worker) {
	c.mu.Lock()
	if c.worker != failed || c.fallback == nil {
		c.mu.Unlock()
		return
	}
	fallback := c.fallback
	c.fallback = nil
	c.mu.Unlock()

	c.logger.Debug("worker reported an error, switching to fallback")
	failed.Terminate()

	w, err := fallback()
	if err != nil {
		c.logger.Error("fallback worker failed", zap.Error(err))
		c.fail(err)
		return
	}

	select {
	case <-c.closed:
		w.Terminate()
		return
	default:
	}
	c.attach(w)
}

// Worker returns the active worker.
func (c *Channel) Worker() Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker
}

// Read implements jsonrpc2.Stream.
func (c *Channel) Read(ctx context.Context) (jsonrpc2.Message, int64, error) {
	for {
		if data, ok := c.next(); ok {
			msg, err := jsonrpc2.DecodeMessage(data)
			return msg, int64(len(data)), err
		}

		select {
		case <-c.pending:
		case <-c.closed:
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, 0, err
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

// Write implements jsonrpc2.Stream.
func (c *Channel) Write(ctx context.Context, msg jsonrpc2.Message) (int64, error) {
	select {
	case <-c.closed:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}
	if err := c.Worker().PostMessage(data); err != nil {
		return 0, fmt.Errorf("post message: %w", err)
	}
	return int64(len(data)), nil
}

// Close terminates the worker. It is idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		w := c.worker
		c.mu.Unlock()
		w.Terminate()
		close(c.closed)
	})
	return nil
}

// fail closes the channel with err as the read error.
func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.Close()
}
