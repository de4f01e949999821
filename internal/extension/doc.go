// Package extension discovers installed extensions and tracks the set of
// extensions visible to the host.
//
// An extension is a directory containing a manifest, either package.json or
// package.yaml. The manifest is kept as raw JSON so that consumers can read
// the contribution points they care about without the loader knowing about
// them:
//
//	~/.config/yamlbridge/extensions/
//	└── kube-schemas/
//	    ├── package.json
//	    └── schemas/
//	        └── deployment.json
//
// A minimal manifest contributing a schema association:
//
//	{
//	  "name": "kube-schemas",
//	  "publisher": "acme",
//	  "contributes": {
//	    "yamlValidation": [
//	      {"fileMatch": "deploy/*.yaml", "url": "./schemas/deployment.json"}
//	    ]
//	  }
//	}
//
// The Registry is the host-facing view: it holds an immutable snapshot of
// the discovered descriptors and notifies subscribers whenever a refresh
// changes that snapshot.
package extension
