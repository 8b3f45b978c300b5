package config

import (
	"path/filepath"
	"time"

	"github.com/mattjoyce/keybridge/internal/protocol"
)

// Config represents the complete keybridge configuration.
type Config struct {
	Service ServiceConfig      `yaml:"service"`
	Keybase KeybaseConfig      `yaml:"keybase"`
	APIs    map[string]APIConf `yaml:"apis,omitempty"`
	Journal JournalConfig      `yaml:"journal"`
	Gateway GatewayConfig      `yaml:"gateway,omitempty"`

	// SourcePath is the absolute path the config was loaded from (empty for defaults).
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// KeybaseConfig locates the binary and its home directory.
type KeybaseConfig struct {
	// WorkingDir is the directory holding the binary.
	WorkingDir string `yaml:"working_dir"`
	Binary     string `yaml:"binary"`
	// HomeDir is passed as --home when set.
	HomeDir    string        `yaml:"home_dir,omitempty"`
	MinVersion string        `yaml:"min_version,omitempty"`
	KillGrace  time.Duration `yaml:"kill_grace,omitempty"`
}

// APIConf overrides the protocol version and default timeout of one API.
type APIConf struct {
	Version int           `yaml:"version"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// JournalConfig defines the call history store.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// GatewayConfig defines the HTTP gateway settings.
type GatewayConfig struct {
	Enabled bool       `yaml:"enabled"`
	Listen  string     `yaml:"listen"`
	Auth    AuthConfig `yaml:"auth"`
}

// AuthConfig defines gateway authentication settings.
type AuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	apis := make(map[string]APIConf, len(protocol.Versions))
	for name, version := range protocol.Versions {
		apis[name] = APIConf{Version: version}
	}

	return &Config{
		Service: ServiceConfig{
			Name:      "keybridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Keybase: KeybaseConfig{
			Binary:    "keybase",
			KillGrace: 5 * time.Second,
		},
		APIs: apis,
		Journal: JournalConfig{
			Enabled:   false,
			Path:      "./data/calls.db",
			Retention: 30 * 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8484",
		},
	}
}

// BinaryPath returns the full path of the keybase binary.
func (c *Config) BinaryPath() string {
	return filepath.Join(c.Keybase.WorkingDir, c.Keybase.Binary)
}

// Versions returns the protocol version per API name.
func (c *Config) Versions() map[string]int {
	out := make(map[string]int, len(c.APIs))
	for name, api := range c.APIs {
		out[name] = api.Version
	}
	return out
}

// Timeouts returns the configured default timeout per API name. APIs without
// a timeout are omitted.
func (c *Config) Timeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for name, api := range c.APIs {
		if api.Timeout > 0 {
			out[name] = api.Timeout
		}
	}
	return out
}
