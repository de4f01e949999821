package config

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// SyncedSections are the configuration sections the language server reads.
var SyncedSections = []string{"yaml", "http.proxy", "http.proxyStrictSSL"}

// Payload returns the synced sections as one JSON object, the shape sent
// in workspace/didChangeConfiguration.
func (s *Settings) Payload() ([]byte, error) {
	payload := []byte(`{}`)
	values := map[string]any{
		"yaml":                s.YAML,
		"http.proxy":          s.HTTP.Proxy,
		"http.proxyStrictSSL": s.HTTP.ProxyStrictSSL,
	}
	for _, section := range SyncedSections {
		var err error
		payload, err = sjson.SetBytes(payload, section, values[section])
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", section, err)
		}
	}
	return payload, nil
}

// Section returns the value of a dotted section path within the synced
// payload, such as "yaml", "yaml.validate" or "http". An empty section
// returns the whole payload.
func (s *Settings) Section(section string) (any, error) {
	payload, err := s.Payload()
	if err != nil {
		return nil, err
	}
	if section == "" {
		return gjson.ParseBytes(payload).Value(), nil
	}
	res := gjson.GetBytes(payload, section)
	if !res.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, section)
	}
	return res.Value(), nil
}
