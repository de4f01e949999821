package lsp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/yamlbridge/internal/lsp/lsptest"
)

type testFactory struct {
	t *testing.T

	mu      sync.Mutex
	servers []*lsptest.Server
	fail    int // number of upcoming calls that fail
}

func (f *testFactory) build(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	if f.fail > 0 {
		f.fail--
		f.mu.Unlock()
		return nil, errors.New("spawn failed")
	}
	f.mu.Unlock()

	rwc, srv := lsptest.NewPipe(f.t)
	sess := NewStreamSession(rwc, WithTimeout(testTimeout))
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.servers = append(f.servers, srv)
	f.mu.Unlock()
	return sess, nil
}

func (f *testFactory) server(i int) *lsptest.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[i]
}

func fastConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2,
		ResetWindow:       time.Minute,
	}
}

func waitEvent(t *testing.T, events <-chan SupervisorEvent, want SupervisorEventType) SupervisorEvent {
	t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestSupervisor_RestartsAfterCrash(t *testing.T) {
	f := &testFactory{t: t}
	sup := NewSupervisor(f.build, fastConfig(), zaptest.NewLogger(t))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(context.Background())

	first := sup.Session()
	require.NotNil(t, first)
	assert.Equal(t, SupervisorStateRunning, sup.State())

	require.NoError(t, f.server(0).Close())

	crash := waitEvent(t, sup.Events(), SupervisorEventCrash)
	assert.Equal(t, first.ID(), crash.SessionID)
	assert.ErrorIs(t, crash.Error, ErrServerCrashed)

	recovered := waitEvent(t, sup.Events(), SupervisorEventRecovered)
	assert.Equal(t, 1, recovered.Attempt)

	second := sup.Session()
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, StateReady, second.State())
	assert.Equal(t, SupervisorStateRunning, sup.State())
}

func TestSupervisor_RetriesFailedRestarts(t *testing.T) {
	f := &testFactory{t: t}
	sup := NewSupervisor(f.build, fastConfig(), zaptest.NewLogger(t))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(context.Background())

	f.mu.Lock()
	f.fail = 2
	f.mu.Unlock()
	require.NoError(t, f.server(0).Close())

	recovered := waitEvent(t, sup.Events(), SupervisorEventRecovered)
	assert.Equal(t, 3, recovered.Attempt)
	assert.Equal(t, 3, sup.RestartCount())
}

func TestSupervisor_GivesUp(t *testing.T) {
	f := &testFactory{t: t}
	sup := NewSupervisor(f.build, fastConfig(), zaptest.NewLogger(t))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop(context.Background())

	f.mu.Lock()
	f.fail = 100
	f.mu.Unlock()
	require.NoError(t, f.server(0).Close())

	waitEvent(t, sup.Events(), SupervisorEventFailed)
	assert.Equal(t, SupervisorStateFailed, sup.State())
	assert.Nil(t, sup.Session())

	err := sup.Wait(context.Background())
	assert.EqualError(t, err, "spawn failed")
}

func TestSupervisor_StopIsNotACrash(t *testing.T) {
	f := &testFactory{t: t}
	sup := NewSupervisor(f.build, fastConfig(), zaptest.NewLogger(t))
	require.NoError(t, sup.Start(context.Background()))

	sess := sup.Session()
	require.NoError(t, sup.Stop(context.Background()))

	assert.Equal(t, SupervisorStateStopped, sup.State())
	assert.Equal(t, StateDisposed, sess.State())
	assert.NoError(t, sup.Wait(context.Background()))

	for ev := range sup.Events() {
		assert.NotEqual(t, SupervisorEventCrash, ev.Type)
	}
}

func TestSupervisor_StartFailure(t *testing.T) {
	f := &testFactory{t: t, fail: 1}
	sup := NewSupervisor(f.build, fastConfig(), nil)

	require.Error(t, sup.Start(context.Background()))
	assert.Equal(t, SupervisorStateFailed, sup.State())
	assert.ErrorIs(t, sup.Start(context.Background()), ErrAlreadyStarted)
}

func TestSupervisorState_String(t *testing.T) {
	assert.Equal(t, "running", SupervisorStateRunning.String())
	assert.Equal(t, "failed", SupervisorStateFailed.String())
	assert.Equal(t, "recovered", SupervisorEventRecovered.String())
	assert.Equal(t, "unknown", SupervisorEventType(42).String())
}
