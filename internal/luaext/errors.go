package luaext

import "errors"

var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrMissingFunction is returned when a script does not define a
	// required global function.
	ErrMissingFunction = errors.New("lua function not defined")

	// ErrBadResult is returned when a script function returns a value that
	// is not a string or nil.
	ErrBadResult = errors.New("lua function returned a non-string")
)
