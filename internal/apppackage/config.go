package apppackage

import (
	"encoding/json"
	"os"

	"github.com/eltociear/marqo/internal/errors"
)

// MarqoConfig is the process/package-level configuration document. Fields
// beyond the version are preserved verbatim across rewrites.
type MarqoConfig struct {
	Version string
	Extra   map[string]any
}

// ParseMarqoConfig decodes the config document, keeping unknown fields.
// Empty input yields nil, indicating a pre-bootstrap or legacy package.
func ParseMarqoConfig(data string) (*MarqoConfig, error) {
	if data == "" {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err)
	}
	cfg := &MarqoConfig{Extra: raw}
	if v, ok := raw["version"].(string); ok {
		cfg.Version = v
	}
	return cfg, nil
}

// MarshalJSON renders the config with the version merged into the
// preserved fields.
func (c *MarqoConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+1)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["version"] = c.Version
	return json.Marshal(out)
}

// ConfigStore holds the config document for one application package.
type ConfigStore struct {
	config *MarqoConfig
}

// NewConfigStore parses the given raw config document; empty means unset.
func NewConfigStore(data string) (*ConfigStore, error) {
	cfg, err := ParseMarqoConfig(data)
	if err != nil {
		return nil, err
	}
	return &ConfigStore{config: cfg}, nil
}

// Get returns the config document, or nil when the package has never been
// bootstrapped.
func (s *ConfigStore) Get() *MarqoConfig {
	return s.config
}

// UpdateVersion stamps the config with a new version, preserving any extra
// fields.
func (s *ConfigStore) UpdateVersion(version string) {
	if s.config == nil {
		s.config = &MarqoConfig{Extra: map[string]any{}}
	}
	s.config.Version = version
}

// SaveToFile writes the config document.
func (s *ConfigStore) SaveToFile(path string) error {
	if s.config == nil {
		return errors.Internal("cannot save config to %s, it is not set", path)
	}
	data, err := json.Marshal(s.config)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err)
	}
	return os.WriteFile(path, data, 0o644)
}
