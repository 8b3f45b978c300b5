package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "KEYBRIDGE_CONFIG"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, verifies and validates the configuration at configPath.
// A directory is accepted and resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyChecksum(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	return cfg, nil
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefaults loads configPath when given, otherwise the discovered config,
// otherwise validated defaults.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	if found, err := Discover(); err == nil {
		return Load(found)
	}

	cfg := Defaults()
	applyConfigDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid default configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $KEYBRIDGE_CONFIG, ~/.config/keybridge/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "keybridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/keybridge/config.yaml, ./config.yaml)", EnvConfigPath)
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Keybase.Binary == "" {
		cfg.Keybase.Binary = defaults.Keybase.Binary
	}
	if cfg.Keybase.WorkingDir == "" {
		// Fall back to wherever the binary lives on PATH.
		if found, err := exec.LookPath(cfg.Keybase.Binary); err == nil {
			cfg.Keybase.WorkingDir = filepath.Dir(found)
		}
	}
	if cfg.Keybase.KillGrace == 0 {
		cfg.Keybase.KillGrace = defaults.Keybase.KillGrace
	}

	// Configured APIs override the built-in versions; unlisted APIs keep theirs.
	if cfg.APIs == nil {
		cfg.APIs = make(map[string]APIConf)
	}
	for name, api := range defaults.APIs {
		current, ok := cfg.APIs[name]
		if !ok {
			cfg.APIs[name] = api
			continue
		}
		if current.Version == 0 {
			current.Version = api.Version
			cfg.APIs[name] = current
		}
	}

	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = defaults.Journal.Retention
	}

	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = defaults.Gateway.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if strings.ContainsRune(cfg.Keybase.Binary, filepath.Separator) {
		return fmt.Errorf("keybase.binary must be a file name, not a path (got %q); use keybase.working_dir for the directory", cfg.Keybase.Binary)
	}
	if cfg.Keybase.WorkingDir == "" {
		return fmt.Errorf("keybase.working_dir is required (%q not found on PATH)", cfg.Keybase.Binary)
	}
	if err := checkUnresolved("keybase.home_dir", cfg.Keybase.HomeDir); err != nil {
		return err
	}
	if cfg.Keybase.MinVersion != "" {
		if _, err := semver.NewVersion(strings.TrimPrefix(cfg.Keybase.MinVersion, "v")); err != nil {
			return fmt.Errorf("keybase.min_version %q is not a semantic version: %w", cfg.Keybase.MinVersion, err)
		}
	}
	if cfg.Keybase.KillGrace < 0 {
		return fmt.Errorf("keybase.kill_grace must not be negative")
	}

	for name, api := range cfg.APIs {
		if api.Version < 1 {
			return fmt.Errorf("apis.%s.version must be >= 1 (got %d)", name, api.Version)
		}
		if api.Timeout < 0 {
			return fmt.Errorf("apis.%s.timeout must not be negative", name)
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.Gateway.Enabled {
		if cfg.Gateway.Listen == "" {
			return fmt.Errorf("gateway.listen is required when the gateway is enabled")
		}
		if err := checkUnresolved("gateway.auth.api_key", cfg.Gateway.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			field := fmt.Sprintf("gateway.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := checkUnresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}

	return nil
}

func checkUnresolved(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
