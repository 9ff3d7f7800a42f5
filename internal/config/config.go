// Package config loads the client configuration: the table of service API
// endpoints, the token storage directory, and the default storage target
// for transfers.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
)

// Errors for service lookup.
var (
	ErrUnknownService = errors.New("config: unknown service name")
	ErrNoAPIURL       = errors.New("config: no url configured for service")
)

// API is one service endpoint entry.
type API struct {
	URL string `toml:"url"`
}

// StorageTarget names the default storage endpoint for uploads and the
// service audience whose token authorizes access to it.
type StorageTarget struct {
	Endpoint string `toml:"endpoint"`
	Service  string `toml:"service"`
}

// Config is the decoded configuration file.
type Config struct {
	// TokenDir is the directory token files are mirrored to. The design
	// assumes single-process, single-session ownership of this directory;
	// nothing locks it.
	TokenDir string `toml:"token_dir"`

	APIs map[string]API `toml:"apis"`

	Storage StorageTarget `toml:"storage"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		TokenDir: DefaultTokenDir(),
		APIs: map[string]API{
			"authn-api": {URL: "https://authn.fedgrid.example/api/v1"},
		},
	}
}

// Load reads the TOML configuration at path, applying defaults for fields
// the file omits. An empty path means the default location; a missing file
// there yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}

		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	if cfg.TokenDir == "" {
		cfg.TokenDir = DefaultTokenDir()
	}

	return cfg, nil
}

// APIURL resolves a service name to its configured base URL.
func (c *Config) APIURL(name string) (string, error) {
	api, ok := c.APIs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	if api.URL == "" {
		return "", fmt.Errorf("%w: %s", ErrNoAPIURL, name)
	}

	return api.URL, nil
}

// WriteExample writes a commented starter configuration, refusing to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}

	const example = `# fedgrid client configuration

# Directory where token files are cached. Defaults to a per-user
# temporary directory.
#token_dir = "/tmp/fedgrid/user"

[apis.authn-api]
url = "https://authn.fedgrid.example/api/v1"

# Default storage target for uploads.
[storage]
endpoint = "davs://storage.fedgrid.example:443/ingest"
service = "storage-api"
`

	return os.WriteFile(path, []byte(example), 0o644)
}
