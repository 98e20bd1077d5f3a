package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RegistryPath       string
	StateDir           string
	StaleAfter         time.Duration
	LivenessTTL        time.Duration
	LockTimeout        time.Duration
	LockBackoff        time.Duration
	NotifyInputMarkers []string
	HistoryEnabled     bool
	HistoryPath        string
	LogLevel           string
}

// fileConfig is the YAML shape. Durations are strings in time.ParseDuration
// syntax; pointer fields distinguish "absent" from zero values.
type fileConfig struct {
	RegistryPath       *string  `yaml:"registry_path"`
	StateDir           *string  `yaml:"state_dir"`
	StaleAfter         *string  `yaml:"stale_after"`
	LivenessTTL        *string  `yaml:"liveness_ttl"`
	LockTimeout        *string  `yaml:"lock_timeout"`
	LockBackoff        *string  `yaml:"lock_backoff"`
	NotifyInputMarkers []string `yaml:"notify_input_markers"`
	HistoryEnabled     *bool    `yaml:"history_enabled"`
	HistoryPath        *string  `yaml:"history_path"`
	LogLevel           *string  `yaml:"log_level"`
}

func DefaultConfig() Config {
	stateDir := defaultStateDir()
	return Config{
		RegistryPath: filepath.Join(stateDir, "registry.json"),
		StateDir:     stateDir,
		StaleAfter:   4 * time.Hour,
		LivenessTTL:  30 * time.Second,
		LockTimeout:  2 * time.Second,
		LockBackoff:  25 * time.Millisecond,
		NotifyInputMarkers: []string{
			"permission",
			"approval",
			"waiting for your input",
		},
		HistoryEnabled: true,
		HistoryPath:    filepath.Join(stateDir, "history.db"),
		LogLevel:       "info",
	}
}

// Load overlays the YAML file at path onto the defaults. A missing file is
// not an error; a malformed one is, so a typo never silently reverts the
// whole config.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := fc.apply(&cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	if fc.RegistryPath != nil {
		cfg.RegistryPath = *fc.RegistryPath
	}
	if fc.StateDir != nil {
		cfg.StateDir = *fc.StateDir
	}
	durations := []struct {
		raw *string
		key string
		dst *time.Duration
	}{
		{fc.StaleAfter, "stale_after", &cfg.StaleAfter},
		{fc.LivenessTTL, "liveness_ttl", &cfg.LivenessTTL},
		{fc.LockTimeout, "lock_timeout", &cfg.LockTimeout},
		{fc.LockBackoff, "lock_backoff", &cfg.LockBackoff},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		v, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if fc.NotifyInputMarkers != nil {
		cfg.NotifyInputMarkers = fc.NotifyInputMarkers
	}
	if fc.HistoryEnabled != nil {
		cfg.HistoryEnabled = *fc.HistoryEnabled
	}
	if fc.HistoryPath != nil {
		cfg.HistoryPath = *fc.HistoryPath
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	return nil
}

// LoadDefault reads the conventional config location.
func LoadDefault() (Config, error) {
	return Load(DefaultPath())
}

func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "agentwatch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentwatch.yaml"
	}
	return filepath.Join(home, ".config", "agentwatch", "config.yaml")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "agentwatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentwatch"
	}
	return filepath.Join(home, ".local", "state", "agentwatch")
}
