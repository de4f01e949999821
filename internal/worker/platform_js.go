//go:build js && wasm

package worker

import (
	"errors"
	"fmt"
	"syscall/js"
)

// BrowserPlatform implements Platform with the global Worker, Blob and URL
// constructors.
type BrowserPlatform struct {
	global js.Value
}

// NewBrowserPlatform returns a platform bound to the global object.
func NewBrowserPlatform() *BrowserPlatform {
	return &BrowserPlatform{global: js.Global()}
}

// NewWorker implements Platform.
func (p *BrowserPlatform) NewWorker(url string) (Worker, error) {
	ctor := p.global.Get("Worker")
	if ctor.IsUndefined() {
		return nil, errors.New("Worker is not available")
	}

	var v js.Value
	if err := catch(func() { v = ctor.New(url) }); err != nil {
		return nil, fmt.Errorf("new Worker(%q): %w", url, err)
	}
	return &browserWorker{v: v}, nil
}

// NewScriptURL implements Platform. It builds a Blob, falling back to the
// vendor BlobBuilder constructors, and returns an object URL for it.
func (p *BrowserPlatform) NewScriptURL(source, mimeType string) (string, error) {
	blob, err := p.newBlob(source, mimeType)
	if err != nil {
		return "", err
	}

	urlAPI := p.global.Get("URL")
	if urlAPI.IsUndefined() {
		urlAPI = p.global.Get("webkitURL")
	}
	if urlAPI.IsUndefined() {
		return "", errors.New("URL.createObjectURL is not available")
	}

	var url string
	if err := catch(func() { url = urlAPI.Call("createObjectURL", blob).String() }); err != nil {
		return "", fmt.Errorf("createObjectURL: %w", err)
	}
	return url, nil
}

func (p *BrowserPlatform) newBlob(source, mimeType string) (js.Value, error) {
	var blob js.Value
	err := catch(func() {
		parts := js.Global().Get("Array").New(source)
		blob = p.global.Get("Blob").New(parts, map[string]any{"type": mimeType})
	})
	if err == nil {
		return blob, nil
	}

	for _, name := range []string{"BlobBuilder", "WebKitBlobBuilder", "MozBlobBuilder"} {
		ctor := p.global.Get(name)
		if ctor.IsUndefined() {
			continue
		}
		if berr := catch(func() {
			builder := ctor.New()
			builder.Call("append", source)
			blob = builder.Call("getBlob", mimeType)
		}); berr == nil {
			return blob, nil
		}
	}
	return js.Undefined(), fmt.Errorf("new Blob: %w", err)
}

type browserWorker struct {
	v         js.Value
	onMessage js.Func
	onError   js.Func
}

func (w *browserWorker) PostMessage(data []byte) (err error) {
	return catch(func() {
		msg := js.Global().Get("JSON").Call("parse", string(data))
		w.v.Call("postMessage", msg)
	})
}

func (w *browserWorker) OnMessage(fn func(data []byte)) {
	w.onMessage.Release()
	w.onMessage = js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		data := js.Global().Get("JSON").Call("stringify", args[0].Get("data")).String()
		fn([]byte(data))
		return nil
	})
	w.v.Set("onmessage", w.onMessage)
}

func (w *browserWorker) OnError(fn func() bool) {
	w.onError.Release()
	w.onError = js.FuncOf(func(_ js.Value, args []js.Value) any {
		if fn() && len(args) > 0 {
			args[0].Call("preventDefault")
		}
		return nil
	})
	w.v.Set("onerror", w.onError)
}

func (w *browserWorker) Terminate() {
	_ = catch(func() { w.v.Call("terminate") })
	w.v.Set("onmessage", js.Null())
	w.v.Set("onerror", js.Null())
	w.onMessage.Release()
	w.onError.Release()
}

// catch converts a JS exception thrown during fn into an error.
func catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = errors.New(jsErr.Value.Call("toString").String())
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}
