// Package bridge routes between the YAML language server and the host.
//
// A Router pushes schema associations once the session is ready, resends
// them whenever the installed extension set changes, announces that the
// client answers custom schema requests, and serves the server's content
// requests from the host document store or the network.
package bridge
