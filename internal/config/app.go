package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// VenueEndpoints overrides a venue's REST and websocket base URLs.
type VenueEndpoints struct {
	BaseURL   string `yaml:"base_url"`
	StreamURL string `yaml:"stream_url"`
}

// App is the application-level configuration: where the worker finds its
// infrastructure. Redis and the ops server are optional; empty values
// disable them.
type App struct {
	PostgresDSN     string                    `yaml:"postgres_dsn"`
	RedisAddr       string                    `yaml:"redis_addr"`
	OpsAddr         string                    `yaml:"ops_addr"`
	CredentialsFile string                    `yaml:"credentials_file"`
	Venues          map[string]VenueEndpoints `yaml:"venues"`
}

// LoadApp reads <dir>/crypton.yaml when present and applies environment
// overrides: CRYPTON_PG_DSN, CRYPTON_REDIS_ADDR, CRYPTON_OPS_ADDR,
// CRYPTON_CREDENTIALS. A missing file is not an error; env-only setups are
// supported.
func LoadApp(dir string) (*App, error) {
	app := &App{
		OpsAddr:         "127.0.0.1:8080",
		CredentialsFile: filepath.Join(dir, "credentials.yaml"),
	}

	path := filepath.Join(dir, "crypton.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, app); err != nil {
			return nil, fmt.Errorf("parse app config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read app config: %w", err)
	}

	if v := os.Getenv("CRYPTON_PG_DSN"); v != "" {
		app.PostgresDSN = v
	}
	if v := os.Getenv("CRYPTON_REDIS_ADDR"); v != "" {
		app.RedisAddr = v
	}
	if v := os.Getenv("CRYPTON_OPS_ADDR"); v != "" {
		app.OpsAddr = v
	}
	if v := os.Getenv("CRYPTON_CREDENTIALS"); v != "" {
		app.CredentialsFile = v
	}
	return app, nil
}
