// Package config loads the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// SpawnerSocket is the socket the spawner listens on. A leading '@'
	// selects the abstract namespace.
	SpawnerSocket string        `yaml:"spawner_socket"`
	LockName      string        `yaml:"lock_name"`
	RestartDelay  time.Duration `yaml:"restart_delay"`

	Trust TrustConfig `yaml:"trust"`
	Log   LogConfig   `yaml:"log"`
}

// TrustConfig locates the trust sources.
type TrustConfig struct {
	Registry       string `yaml:"registry"`
	GranterPackage string `yaml:"granter_package"`
	DataRoot       string `yaml:"data_root"`
	AllowList      string `yaml:"allow_list"`
	// Watch caches the parsed sources until they change on disk
	Watch bool `yaml:"watch"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Default returns the built in configuration.
func Default() *Config {
	cfg := &Config{Trust: TrustConfig{Watch: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads the configuration at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		applyEnvOverrides(cfg)
		if err := validateConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := parse(b)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses data without environment overrides.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{Trust: TrustConfig{Watch: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SpawnerSocket == "" {
		cfg.SpawnerSocket = "/dev/socket/zygote"
	}
	if cfg.LockName == "" {
		cfg.LockName = "anjarootd"
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.Trust.Registry == "" {
		cfg.Trust.Registry = "/data/system/packages.list"
	}
	if cfg.Trust.GranterPackage == "" {
		cfg.Trust.GranterPackage = "org.failedprojects.anjaroot"
	}
	if cfg.Trust.DataRoot == "" {
		cfg.Trust.DataRoot = "/data/data"
	}
	if cfg.Trust.AllowList == "" {
		cfg.Trust.AllowList = "files/granted"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANJAROOTD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ANJAROOTD_SPAWNER_SOCKET"); v != "" {
		cfg.SpawnerSocket = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.RestartDelay < 0 {
		return errors.New("restart_delay must not be negative")
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Log.Format)
	}
	if cfg.LockName == "" || cfg.LockName[0] == '@' {
		return fmt.Errorf("lock_name: invalid name %q", cfg.LockName)
	}
	return nil
}
