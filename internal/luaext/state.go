package luaext

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds a single call into a script.
const DefaultCallTimeout = 5 * time.Second

// State wraps a sandboxed gopher-lua state.
type State struct {
	mu      sync.Mutex
	L       *lua.LState
	timeout time.Duration
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithCallTimeout sets the per-call timeout. Zero disables it.
func WithCallTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// NewState creates a sandboxed state.
func NewState(opts ...StateOption) *State {
	s := &State{timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(s.L)
	return s
}

// openSafeLibraries opens the base, table, string and math libraries and
// removes the loaders that reach the filesystem.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// DoString executes a chunk.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.with(ctx, func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// RegisterModule installs a global table of Go functions and string fields.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction, fields map[string]string) error {
	return s.with(context.Background(), func(L *lua.LState) error {
		mod := L.SetFuncs(L.NewTable(), funcs)
		for k, v := range fields {
			L.SetField(mod, k, lua.LString(v))
		}
		L.SetGlobal(name, mod)
		return nil
	})
}

// HasFunction reports whether the global name is a function.
func (s *State) HasFunction(name string) bool {
	var ok bool
	_ = s.with(context.Background(), func(L *lua.LState) error {
		ok = L.GetGlobal(name).Type() == lua.LTFunction
		return nil
	})
	return ok
}

// CallString calls the global function fn with string arguments and
// returns its first result as a string. A nil result is returned as "".
func (s *State) CallString(ctx context.Context, fn string, args ...string) (string, error) {
	var out string
	err := s.with(ctx, func(L *lua.LState) error {
		f := L.GetGlobal(fn)
		if f.Type() != lua.LTFunction {
			return fmt.Errorf("%w: %s", ErrMissingFunction, fn)
		}

		lArgs := make([]lua.LValue, len(args))
		for i, a := range args {
			lArgs[i] = lua.LString(a)
		}
		if err := L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, lArgs...); err != nil {
			return fmt.Errorf("%s: %w", fn, err)
		}

		ret := L.Get(-1)
		L.Pop(1)
		switch v := ret.(type) {
		case lua.LString:
			out = string(v)
		case *lua.LNilType:
		default:
			return fmt.Errorf("%w: %s returned %s", ErrBadResult, fn, ret.Type())
		}
		return nil
	})
	return out, err
}

// with runs fn holding the state lock, with ctx and the call timeout
// attached so long-running scripts are interrupted.
func (s *State) with(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn(s.L)
}

// Close releases the state. It is idempotent.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}
