package matrix

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the ambient set of knobs a caller can load from a YAML file and
// hand to NewClient. Locating, watching, and merging that file with flags
// or environment variables is the embedding application's job; this
// struct only owns the decode shape and sane defaults.
type Config struct {
	HomeserverURL   string        `yaml:"homeserver_url"`
	PathPrefix      string        `yaml:"path_prefix"`
	UserID          string        `yaml:"user_id,omitempty"`
	AccessToken     string        `yaml:"access_token,omitempty"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	Backoff         time.Duration `yaml:"backoff"`
	PaginationLimit int           `yaml:"pagination_limit"`
}

// DefaultPathPrefix is the v1 client-server API prefix.
const DefaultPathPrefix = "/_matrix/client/api/v1"

// DefaultConfig returns a Config with reasonable defaults: the
// v1 prefix, a 20-event pagination page, and a 3-second retry backoff.
func DefaultConfig() Config {
	return Config{
		PathPrefix:      DefaultPathPrefix,
		SyncTimeout:     30 * time.Second,
		Backoff:         3 * time.Second,
		PaginationLimit: 20,
	}
}

// DecodeConfig parses YAML config bytes over DefaultConfig, so a file only
// needs to set what it wants to override.
func DecodeConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
