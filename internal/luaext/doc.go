// Package luaext runs custom schema contributors written in Lua.
//
// An extension declares contributors in its manifest:
//
//	"contributes": {
//	  "yamlSchemaContributors": [
//	    {"scheme": "kube", "script": "./contrib/kube.lua"}
//	  ]
//	}
//
// The script defines two global functions:
//
//	function request_schema(resource) return "kube://deployment" end
//	function schema_content(uri) return '{"type":"object"}' end
//
// request_schema returns nil or "" when the contributor has no schema for
// the resource. Scripts run in a sandbox with only the base, table, string
// and math libraries, plus a yamlbridge module exposing extension_id and
// log.
//
// gopher-lua states are not goroutine-safe; every call into a State holds
// its mutex.
package luaext
