//go:build js && wasm

package fetch

import (
	"context"
	"syscall/js"
)

// BrowserFetcher fetches with the global fetch function in cross-origin
// mode. Redirects and headers are left to the browser, and the response
// text is returned whatever the status.
type BrowserFetcher struct {
	global js.Value
}

// NewBrowserFetcher returns a fetcher bound to the global object.
func NewBrowserFetcher() *BrowserFetcher {
	return &BrowserFetcher{global: js.Global()}
}

// Fetch implements Fetcher.
func (f *BrowserFetcher) Fetch(ctx context.Context, uri string) (string, error) {
	init := js.ValueOf(map[string]any{"mode": "cors"})

	var promise js.Value
	if err := catch(func() { promise = f.global.Call("fetch", uri, init) }); err != nil {
		return "", &Error{URI: uri, Message: err.Error(), Err: err}
	}

	resp, err := await(ctx, promise)
	if err != nil {
		return "", &Error{URI: uri, Message: err.Error(), Err: err}
	}

	text, err := await(ctx, resp.Call("text"))
	if err != nil {
		return "", &Error{URI: uri, Message: err.Error(), Err: err}
	}
	return text.String(), nil
}

// jsError is a rejection value in its string form.
type jsError struct {
	msg string
}

func (e *jsError) Error() string {
	return e.msg
}

func toError(v js.Value) error {
	if v.IsUndefined() || v.IsNull() {
		return &jsError{msg: "undefined"}
	}
	return &jsError{msg: v.Call("toString").String()}
}

// await blocks until promise settles or ctx is done. The callbacks release
// themselves once the promise settles, so abandoning a pending promise on
// cancellation is safe.
func await(ctx context.Context, promise js.Value) (js.Value, error) {
	resolved := make(chan js.Value, 1)
	rejected := make(chan js.Value, 1)

	var onResolve, onReject js.Func
	settle := func(ch chan js.Value, args []js.Value) {
		onResolve.Release()
		onReject.Release()
		if len(args) > 0 {
			ch <- args[0]
		} else {
			ch <- js.Undefined()
		}
	}
	onResolve = js.FuncOf(func(_ js.Value, args []js.Value) any {
		settle(resolved, args)
		return nil
	})
	onReject = js.FuncOf(func(_ js.Value, args []js.Value) any {
		settle(rejected, args)
		return nil
	})

	promise.Call("then", onResolve, onReject)

	select {
	case v := <-resolved:
		return v, nil
	case v := <-rejected:
		return js.Undefined(), toError(v)
	case <-ctx.Done():
		return js.Undefined(), ctx.Err()
	}
}

// catch converts a JS exception thrown during fn into an error.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = &jsError{msg: jsErr.Value.Call("toString").String()}
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}
