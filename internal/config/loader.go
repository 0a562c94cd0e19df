// Package config loads a dispatchd node's YAML configuration file, filling
// in defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses a NodeConfig from path, applying defaults for any
// zero-valued field and expanding ${VAR} references in string fields that
// carry secrets or environment-specific paths.
func Load(path string) (*NodeConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	data = []byte(interpolateEnv(string(data)))

	cfg := &NodeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	cfg = applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", absPath, err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds a config file by checking, in order: the
// DISPATCHD_CONFIG environment variable, then ./dispatchd.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("DISPATCHD_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if _, err := os.Stat("./dispatchd.yaml"); err == nil {
		return "./dispatchd.yaml", nil
	}
	return "", fmt.Errorf("no config found (checked $DISPATCHD_CONFIG, ./dispatchd.yaml)")
}

func applyDefaults(cfg *NodeConfig) *NodeConfig {
	d := Defaults()

	if cfg.Node.Name == "" {
		cfg.Node.Name = d.Node.Name
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = d.Node.LogLevel
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = d.Worker.Count
	}
	if cfg.Worker.TakeTick == 0 {
		cfg.Worker.TakeTick = d.Worker.TakeTick
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = d.Worker.MaxRetries
	}
	if cfg.Worker.RetryBaseDelay == 0 {
		cfg.Worker.RetryBaseDelay = d.Worker.RetryBaseDelay
	}
	if cfg.Worker.RetryMaxDelay == 0 {
		cfg.Worker.RetryMaxDelay = d.Worker.RetryMaxDelay
	}
	if cfg.Worker.DefaultDeadline == 0 {
		cfg.Worker.DefaultDeadline = d.Worker.DefaultDeadline
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = d.Store.SQLitePath
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validate can catch them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func validate(cfg *NodeConfig) error {
	if cfg.Worker.Count <= 0 {
		return fmt.Errorf("worker.count must be positive")
	}
	if cfg.Worker.TakeTick <= 0 {
		return fmt.Errorf("worker.take_tick must be positive")
	}
	if cfg.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker.max_commit_retries must not be negative")
	}
	if cfg.Store.SQLitePath == "" {
		return fmt.Errorf("store.sqlite_path is required")
	}
	if cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required")
	}
	if envVarPattern.MatchString(cfg.Store.SQLitePath) {
		return fmt.Errorf("store.sqlite_path has an unresolved environment reference")
	}
	return nil
}
