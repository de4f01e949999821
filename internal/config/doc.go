// Package config loads yamlbridge settings and keeps the language server in
// sync with them.
//
// Settings come from three sources, later ones overriding earlier ones:
//
//  1. built-in defaults
//  2. the TOML file (~/.config/yamlbridge/config.toml or --config)
//  3. YAMLBRIDGE_* environment variables
//
// A typical file:
//
//	[server]
//	command = "yaml-language-server"
//	args = ["--stdio"]
//
//	[http]
//	proxy = "http://proxy.internal:3128"
//	proxyStrictSSL = true
//
//	[watch]
//	ignoreDirs = [".git", "node_modules", "vendor"]
//	maxWatches = 4096
//
//	[yaml]
//	validate = true
//	schemaStore = { enable = true }
//
// Three sections are synchronized with the server: the free-form yaml
// table, http.proxy and http.proxyStrictSSL. The Syncer answers
// workspace/configuration requests from them and sends
// workspace/didChangeConfiguration when the session becomes ready and
// whenever the Store reloads the file.
//
// # Error Handling
//
//   - *loader.ParseError: the file is not valid TOML
//   - *TypeError: a value has the wrong type for its setting
//   - *ValidationError: a value is outside its allowed set
package config
