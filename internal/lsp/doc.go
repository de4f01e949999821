// Package lsp is the client side of the connection to the YAML language
// server.
//
// A Session wraps a go.lsp.dev/jsonrpc2 connection over any message stream:
// the stdio of a server subprocess (see StartProcess) or a worker message
// port in the browser runtime. It performs the initialize handshake and
// serves server-initiated requests through handlers registered by name.
//
// # Lifecycle
//
//	NotStarted -> Starting -> Ready -> Disposed
//
// Handlers may be registered at any time. Requests that arrive before the
// session is Ready wait for the transition instead of being rejected, and
// each request is served on its own goroutine. Notify is only valid while
// Ready. Dispose is terminal and closes the underlying stream before it
// returns.
//
// # Crash Recovery
//
// In the process runtime a Supervisor watches the session and, when the
// connection drops without Dispose, builds a fresh session through its
// factory with exponential backoff. The factory re-registers handlers, so
// everything that runs on Ready (association push, registration announce,
// configuration sync) is replayed against the new server.
package lsp
