package bridge

// Wire method names. These are part of the protocol contract with the
// server and must not change.
const (
	// MethodSchemaAssociations pushes the pattern to schema URL map.
	MethodSchemaAssociations = "json/schemaAssociations"

	// MethodRegisterCustomSchemaRequest announces custom schema support.
	MethodRegisterCustomSchemaRequest = "yaml/registerCustomSchemaRequest"

	// MethodCustomSchemaRequest asks which schema applies to a resource.
	MethodCustomSchemaRequest = "custom/schema/request"

	// MethodCustomSchemaContent asks for the content of a custom schema.
	MethodCustomSchemaContent = "custom/schema/content"

	// MethodContentRequest asks for the text of a resource.
	MethodContentRequest = "vscode/content"

	// MethodStoreContentRequest asks for the text of a schema store resource.
	MethodStoreContentRequest = "vscode/content/store"
)

// Error codes sent with rejected content requests.
const (
	CodeDocumentOpenFailed  = 2
	CodeResourceNotLoadable = 3
)

// UntitledScheme is the scheme of unsaved editor buffers.
const UntitledScheme = "untitled"
