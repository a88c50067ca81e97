package common

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ProbeConfig is one entry of the config file's probe_configs map: the
// static metadata this server attaches to a physically enumerated probe.
type ProbeConfig struct {
	TargetName    string   `json:"target_name"`
	ProbeAlias    string   `json:"probe_alias"`
	Groups        []string `json:"groups"`
	ProbeSpeedKHz *uint32  `json:"probe_speed_khz,omitempty"`
}

// ServerSettings are the §6.3 server_configs fields.
type ServerSettings struct {
	Host                    string `json:"host"`
	Port                    int    `json:"port"`
	MaxTargetTimeout        int    `json:"max_target_timeout"`
	MaxJobsInQueue          int    `json:"max_jobs_in_queue"`
}

// LoggingSettings is the §6.3 logging block.
type LoggingSettings struct {
	Level string `json:"level"`
}

// Config is the on-disk JSON configuration this server loads at startup.
// Unlike the rest of the reference stack, this file's shape is mandated
// verbatim by the external HTTP contract (§6.3), so it is loaded with
// encoding/json rather than the reference stack's usual TOML config loader
// — see DESIGN.md for the reasoning.
type Config struct {
	AuthTokens   map[string]string      `json:"auth_tokens"`
	ProbeConfigs map[string]ProbeConfig `json:"probe_configs"`
	Server       ServerSettings         `json:"server_configs"`
	Logging      LoggingSettings        `json:"logging"`
}

// DefaultConfig returns the configuration a brand-new config file is seeded
// with.
func DefaultConfig() *Config {
	return &Config{
		AuthTokens:   map[string]string{},
		ProbeConfigs: map[string]ProbeConfig{},
		Server: ServerSettings{
			Host:             "0.0.0.0",
			Port:             8080,
			MaxTargetTimeout: 30,
			MaxJobsInQueue:   40,
		},
		Logging: LoggingSettings{Level: "info"},
	}
}

// LoadConfig reads the config file at path, creating it with defaults if it
// does not exist, then applies HILCI_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if writeErr := cfg.Save(path); writeErr != nil {
			return nil, fmt.Errorf("create default config at %s: %w", path, writeErr)
		}
	case err != nil:
		return nil, fmt.Errorf("read config at %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config at %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HILCI_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("HILCI_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("HILCI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HILCI_MAX_JOBS_IN_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MaxJobsInQueue = n
		}
	}
	if v := os.Getenv("HILCI_MAX_TARGET_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MaxTargetTimeout = n
		}
	}
}

// AddToken appends a new name/token pair and saves the config to path,
// backing the "new-token" CLI subcommand.
func (c *Config) AddToken(path, name, token string) error {
	if c.AuthTokens == nil {
		c.AuthTokens = map[string]string{}
	}
	c.AuthTokens[name] = token
	return c.Save(path)
}
