package lsp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// SupervisorState represents the state of a supervised session.
type SupervisorState int

const (
	// SupervisorStateIdle means the supervisor is not monitoring.
	SupervisorStateIdle SupervisorState = iota
	// SupervisorStateRunning means the session is running normally.
	SupervisorStateRunning
	// SupervisorStateRestarting means the server crashed and is being restarted.
	SupervisorStateRestarting
	// SupervisorStateFailed means the server has exceeded max restart attempts.
	SupervisorStateFailed
	// SupervisorStateStopped means the supervisor was explicitly stopped.
	SupervisorStateStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorStateIdle:
		return "idle"
	case SupervisorStateRunning:
		return "running"
	case SupervisorStateRestarting:
		return "restarting"
	case SupervisorStateFailed:
		return "failed"
	case SupervisorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures the session supervisor.
type SupervisorConfig struct {
	// MaxRestarts is the maximum number of restart attempts before giving up.
	// Default: 5
	MaxRestarts int

	// InitialBackoff is the initial backoff duration after a crash.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 60 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each failure.
	// Default: 2.0
	BackoffMultiplier float64

	// ResetWindow is the time after which the restart count resets if the
	// session has been running successfully.
	// Default: 5 minutes
	ResetWindow time.Duration
}

// DefaultSupervisorConfig returns the default supervisor configuration.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		ResetWindow:       5 * time.Minute,
	}
}

// SupervisorEvent represents an event from the supervisor.
type SupervisorEvent struct {
	Type      SupervisorEventType
	SessionID string
	Error     error
	Attempt   int
	NextRetry time.Duration
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the server crashed.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates a restart attempt is starting.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates a new session is Ready.
	SupervisorEventRecovered
	// SupervisorEventFailed indicates the server has permanently failed.
	SupervisorEventFailed
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionFactory builds and starts a fresh session, including its channel
// and handler registrations. It returns a Ready session.
type SessionFactory func(ctx context.Context) (*Session, error)

// Supervisor keeps a session alive. When the connection drops without
// Dispose it builds a new session through the factory, retrying with
// exponential backoff.
//
// Thread Safety: Supervisor is safe for concurrent use. The state field
// uses atomic operations for lock-free reads. Other fields are protected
// by mu.
type Supervisor struct {
	mu sync.Mutex

	config  SupervisorConfig
	factory SessionFactory
	logger  *zap.Logger

	// Session management (protected by mu)
	session      *Session
	restartCount int
	lastStart    time.Time

	state atomic.Int32

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	eventCh   chan SupervisorEvent
	closed    atomic.Bool
	closeOnce sync.Once

	// finished is closed on Stop or permanent failure
	finished   chan struct{}
	finishOnce sync.Once
	failErr    error
}

// NewSupervisor creates a new session supervisor.
func NewSupervisor(factory SessionFactory, config SupervisorConfig, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}

	defaults := DefaultSupervisorConfig()
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.ResetWindow <= 0 {
		config.ResetWindow = defaults.ResetWindow
	}

	s := &Supervisor{
		config:   config,
		factory:  factory,
		logger:   logger,
		eventCh:  make(chan SupervisorEvent, 16),
		finished: make(chan struct{}),
	}
	s.state.Store(int32(SupervisorStateIdle))
	return s
}

// Start builds the first session and begins supervision.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorStateIdle {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	session, err := s.factory(s.ctx)
	if err != nil {
		s.state.Store(int32(SupervisorStateFailed))
		s.failErr = err
		s.finishOnce.Do(func() { close(s.finished) })
		return err
	}

	s.session = session
	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorStateRunning))

	// Start monitoring
	go s.monitor()

	return nil
}

// monitor watches for crashes and handles restarts.
func (s *Supervisor) monitor() {
	for {
		s.mu.Lock()
		session := s.session
		s.mu.Unlock()

		if session == nil {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-session.Done():
		}

		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			return
		}

		crashErr := session.Err()
		if crashErr == nil {
			crashErr = ErrServerCrashed
		}
		if !s.restart(crashErr, session.ID()) {
			return
		}
	}
}

// restart replaces a crashed session. Returns true if a new session is Ready.
func (s *Supervisor) restart(crashErr error, crashedID string) bool {
	s.mu.Lock()

	// Check if the session ran long enough to reset counters
	if time.Since(s.lastStart) > s.config.ResetWindow {
		s.restartCount = 0
	}
	remaining := s.config.MaxRestarts - s.restartCount

	s.emitEvent(SupervisorEvent{
		Type:      SupervisorEventCrash,
		SessionID: crashedID,
		Error:     crashErr,
		Attempt:   s.restartCount,
	})
	s.logger.Warn("language server crashed", zap.Error(crashErr), zap.Int("restarts", s.restartCount))

	if remaining <= 0 {
		s.failLocked(crashErr)
		s.mu.Unlock()
		return false
	}

	s.state.Store(int32(SupervisorStateRestarting))
	s.mu.Unlock()

	// Wait out the first interval; Retry runs its first attempt immediately.
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(s.config.InitialBackoff):
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval: s.config.InitialBackoff,
		Multiplier:      s.config.BackoffMultiplier,
		MaxInterval:     s.config.MaxBackoff,
	}

	session, err := backoff.Retry(s.ctx, func() (*Session, error) {
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			return nil, backoff.Permanent(ErrDisposed)
		}

		s.mu.Lock()
		s.restartCount++
		s.emitEvent(SupervisorEvent{
			Type:    SupervisorEventRestarting,
			Attempt: s.restartCount,
		})
		s.mu.Unlock()

		return s.factory(s.ctx)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(remaining)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("restart failed", zap.Error(err), zap.Duration("next", next))
			s.mu.Lock()
			s.emitEvent(SupervisorEvent{
				Type:      SupervisorEventRestarting,
				Error:     err,
				Attempt:   s.restartCount,
				NextRetry: next,
			})
			s.mu.Unlock()
		}),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if SupervisorState(s.state.Load()) == SupervisorStateStopped {
		if session != nil {
			go session.Dispose(context.Background())
		}
		return false
	}

	if err != nil {
		s.failLocked(err)
		return false
	}

	s.session = session
	s.lastStart = time.Now()
	s.state.Store(int32(SupervisorStateRunning))
	s.emitEvent(SupervisorEvent{
		Type:      SupervisorEventRecovered,
		SessionID: session.ID(),
		Attempt:   s.restartCount,
	})
	s.logger.Info("language server recovered", zap.Int("attempt", s.restartCount))
	return true
}

// failLocked records permanent failure (must hold mu).
func (s *Supervisor) failLocked(err error) {
	s.state.Store(int32(SupervisorStateFailed))
	s.session = nil
	s.emitEvent(SupervisorEvent{
		Type:    SupervisorEventFailed,
		Error:   err,
		Attempt: s.restartCount,
	})
	s.logger.Error("language server failed permanently", zap.Error(err))

	s.failErr = err
	s.finishOnce.Do(func() { close(s.finished) })
}

// emitEvent sends an event to listeners. Events are dropped if the channel
// is full or closed.
func (s *Supervisor) emitEvent(event SupervisorEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.eventCh <- event:
	default:
		// Channel full, drop event
	}
}

// Stop stops supervision and disposes the current session.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	state := SupervisorState(s.state.Load())
	if state == SupervisorStateStopped || state == SupervisorStateIdle {
		s.mu.Unlock()
		return nil
	}

	s.state.Store(int32(SupervisorStateStopped))
	session := s.session
	s.session = nil
	s.mu.Unlock()

	// Cancel context to stop monitor
	if s.cancel != nil {
		s.cancel()
	}

	// Close event channel (once)
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		close(s.eventCh)
		s.mu.Unlock()
	})
	s.finishOnce.Do(func() { close(s.finished) })

	if session != nil {
		return session.Dispose(ctx)
	}
	return nil
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Session returns the current session (nil during restart or after failure).
func (s *Supervisor) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// RestartCount returns the number of restart attempts since the last reset.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// Events returns the event channel for monitoring supervisor events.
// The channel is closed when the supervisor is stopped.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.eventCh
}

// Wait blocks until the supervisor is stopped, fails permanently, or ctx is
// done. After a permanent failure it returns the last crash or restart
// error.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.finished:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failErr
}
