package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitError(t *testing.T) {
	cause := errors.New("boom")
	err := &InitError{Component: "workspace", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "workspace")
}

func TestComponentError(t *testing.T) {
	cause := errors.New("boom")
	err := NewComponentError("session", "dispose", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "session")
	assert.Contains(t, err.Error(), "dispose")
}
