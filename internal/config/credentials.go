package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lexmulier/crypton/internal/venue"
)

type credentialsEntry struct {
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`
	Password string `yaml:"password"`
}

// LoadCredentials reads the YAML credentials file keyed by venue id. A
// missing file yields an empty map so public-endpoint runs work without one.
// Values are handed straight to the adapters and never logged.
func LoadCredentials(path string) (map[string]venue.Credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]venue.Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var raw map[string]credentialsEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}

	out := make(map[string]venue.Credentials, len(raw))
	for id, entry := range raw {
		out[id] = venue.Credentials{
			Key:      entry.Key,
			Secret:   entry.Secret,
			Password: entry.Password,
		}
	}
	return out, nil
}
