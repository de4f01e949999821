// Package worker provisions the message channel to a language server that
// runs in a Web Worker.
//
// Browsers may refuse to start a worker directly from a foreign-origin
// script URL while still allowing a same-origin blob URL whose only
// statement imports that script. The Provisioner tries the direct route
// first and falls back to the blob route, either when construction fails
// synchronously or when the worker later reports an error.
//
// The Platform interface isolates the browser primitives; platform_js.go
// implements it with syscall/js, and tests use a fake.
package worker
