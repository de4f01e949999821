package lsp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

// RequestHandler serves one server-initiated request. The returned value is
// marshaled as the result. Errors that are not already *jsonrpc2.Error are
// sent as InternalError with the error text as message.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler receives a server notification. It runs on the
// connection's read loop and must not block.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Registrar accepts request handlers by method name.
type Registrar interface {
	Handle(method string, h RequestHandler)
}

// HandleString registers a handler for a request whose parameter is a single
// string and whose result is a string.
func HandleString(r Registrar, method string, fn func(ctx context.Context, arg string) (string, error)) {
	r.Handle(method, func(ctx context.Context, params json.RawMessage) (any, error) {
		arg, err := StringParam(params)
		if err != nil {
			return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, fmt.Sprintf("%s: %v", method, err))
		}
		return fn(ctx, arg)
	})
}

// StringParam decodes a request parameter that is either a JSON string or
// an array holding one string, which is how positional single arguments
// arrive.
func StringParam(params json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: missing parameter", ErrInvalidParams)
	}

	if trimmed[0] == '[' {
		var args []json.RawMessage
		if err := json.Unmarshal(trimmed, &args); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if len(args) != 1 {
			return "", fmt.Errorf("%w: want 1 argument, got %d", ErrInvalidParams, len(args))
		}
		trimmed = args[0]
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", fmt.Errorf("%w: want a string: %v", ErrInvalidParams, err)
	}
	return s, nil
}

// replyError converts a handler error to its wire form.
func replyError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}
