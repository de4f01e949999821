// Package schema computes schema associations from extension metadata.
//
// Extensions declare associations under contributes.yamlValidation:
//
//	"yamlValidation": [
//	  {"fileMatch": "%APP_SETTINGS_HOME%/settings.yaml", "url": "./settings.json"},
//	  {"fileMatch": "docker-compose.yml", "url": "https://example.com/compose.json"}
//	]
//
// Compute turns the contributions of every extension into an Associations
// map keyed by normalized file pattern. The result is built fresh on every
// call and never mutated after it is returned.
package schema
