// Package config loads and watches the gateway configuration. A loaded
// Config is an immutable value; live reloads install a fresh value
// atomically, so an in-flight exchange keeps the config it started with.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the gateway configuration.
type Config struct {
	// DataDir is the platform data directory holding the database,
	// settings, and rules
	DataDir string `yaml:"data_dir"`

	// Listen is the HTTP bind address
	Listen string `yaml:"listen"`

	// DefaultProvider selects the provider used when a request names none
	DefaultProvider string `yaml:"default_provider"`

	Providers []ProviderConfig `yaml:"providers"`

	Compaction CompactionConfig `yaml:"compaction"`
	Hooks      HooksConfig      `yaml:"hooks"`
	System     SystemConfig     `yaml:"system"`
	Memory     MemoryConfig     `yaml:"memory"`
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	ID      string `yaml:"id"`                 // anthropic, openai, google, deepseek, qwen, glm, openai-compatible, ollama
	APIKey  string `yaml:"api_key,omitempty"`  // supports ${ENV_VAR} expansion
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"` // for ollama and openai_compatible
}

// CompactionConfig tunes the compaction trigger.
type CompactionConfig struct {
	Threshold        float64 `yaml:"threshold"`          // fraction of the window (default: 0.85)
	PreserveRecent   int     `yaml:"preserve_recent"`    // turns kept out of the summary (default: 4)
	MaxContextTokens int     `yaml:"max_context_tokens"` // 0 = per-model table
}

// HooksConfig locates the hook settings file.
type HooksConfig struct {
	SettingsPath   string        `yaml:"settings_path"` // default: <data_dir>/settings.json
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// SystemConfig wraps the assembled system context.
type SystemConfig struct {
	Prefix string `yaml:"prefix"`
	Suffix string `yaml:"suffix"`
}

// MemoryConfig tunes memory behavior.
type MemoryConfig struct {
	SearchLimit int  `yaml:"search_limit"` // default: 10
	ShortTerm   bool `yaml:"short_term"`   // record recent activity (default: true)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:         defaultDataDir(),
		Listen:          "127.0.0.1:4317",
		DefaultProvider: "anthropic",
		Compaction: CompactionConfig{
			Threshold:      0.85,
			PreserveRecent: 4,
		},
		Memory: MemoryConfig{
			SearchLimit: 10,
			ShortTerm:   true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lantern"
	}
	return filepath.Join(home, ".lantern")
}

// Load reads config.yaml from the default data directory. A missing
// file yields the defaults.
func Load() (*Config, error) {
	path := filepath.Join(defaultDataDir(), "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path. Secrets support
// ${ENV_VAR} expansion; a tilde data dir is expanded to the home
// directory.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if strings.HasPrefix(cfg.DataDir, "~/") {
		home, _ := os.UserHomeDir()
		cfg.DataDir = filepath.Join(home, cfg.DataDir[2:])
	}
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}
	if cfg.Hooks.SettingsPath == "" {
		cfg.Hooks.SettingsPath = filepath.Join(cfg.DataDir, "settings.json")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the data directory's config.yaml.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.DataDir, "config.yaml"), data, 0o600)
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "data", "lantern.db")
}

// Provider returns the provider config by id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func (c *Config) validate() error {
	if c.Compaction.Threshold < 0 || c.Compaction.Threshold > 1 {
		return fmt.Errorf("compaction threshold %v out of range (0,1]", c.Compaction.Threshold)
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
