/*
Config.go loads the root orchestrator's YAML configuration, grounded on
the teacher's Settings.go: a plain struct with yaml tags, read with
gopkg.in/yaml.v3, falling back to built-in defaults rather than failing
hard when the file is missing.
*/
package bitchat

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the node's local configuration (spec.md §1's "local
// configuration"/"identity storage" external collaborators, made concrete).
type Config struct {
	Nickname string `yaml:"Nickname"`

	// KeystorePath, if set, backs the identity keystore (keypair and
	// nickname) with a Pogreb database at this path. Empty uses an
	// in-memory store, matching development/test runs.
	KeystorePath string `yaml:"KeystorePath"`

	// Passphrase holds a passphrase for a host to pass to
	// identity.NewSoftwareSealer. New does not read it; the sealer is
	// passed to New directly. Production builds should inject a real
	// platform KeySealer instead and leave this blank.
	Passphrase string `yaml:"Passphrase"`

	// AdminListen is the address the operator introspection HTTP+WS
	// surface binds to (e.g. "127.0.0.1:8080"). Empty disables it.
	AdminListen string `yaml:"AdminListen"`
}

// DefaultConfig mirrors the teacher's loadConfig fallback: reasonable
// defaults so the node still starts with a missing or empty config file.
func DefaultConfig() *Config {
	return &Config{
		Nickname:    "anonymous",
		Passphrase:  "",
		AdminListen: "",
	}
}

// LoadConfig reads path as YAML, falling back to DefaultConfig if the file
// does not exist. A malformed existing file is still a fatal error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
