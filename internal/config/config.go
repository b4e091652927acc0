// Package config handles configuration loading for specflow.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for specflow.
type Config struct {
	Workers     WorkersConfig     `mapstructure:"workers"`
	Interaction InteractionConfig `mapstructure:"interaction"`
	Gates       GatesConfig       `mapstructure:"gates"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	API         APIConfig         `mapstructure:"api"`
}

// WorkersConfig tunes the per-layer worker dispatcher.
type WorkersConfig struct {
	// Max caps concurrent worker executions per layer.
	Max int `mapstructure:"max"`
	// Lease is how long a claim stays valid without an update.
	Lease time.Duration `mapstructure:"lease"`
	// MaxRetries bounds retriable failures per item.
	MaxRetries int `mapstructure:"max_retries"`
	// StallThreshold bounds expired claims per item.
	StallThreshold int `mapstructure:"stall_threshold"`
}

// InteractionConfig tunes question batching.
type InteractionConfig struct {
	// BatchSize caps questions surfaced per interaction round.
	BatchSize int `mapstructure:"batch_size"`
}

// GatesConfig tunes manual gate behavior.
type GatesConfig struct {
	// Auto waives pending gates instead of halting.
	Auto bool `mapstructure:"auto"`
	// Wait makes a halted gate watch for an external approval for this
	// long before giving up. Zero halts immediately.
	Wait time.Duration `mapstructure:"wait"`
	// SkipClarify forces the clarify phase to be skipped.
	SkipClarify bool `mapstructure:"skip_clarify"`
}

// WorkerConfig selects and tunes the worker executor.
type WorkerConfig struct {
	// Command is the shell command of the subprocess executor. Empty
	// selects the API executor.
	Command string `mapstructure:"command"`
	// Timeout bounds a single worker execution.
	Timeout time.Duration `mapstructure:"timeout"`
}

// APIConfig holds settings for the API-backed worker executor.
type APIConfig struct {
	// Key is the Anthropic API key. Supports ${VAR} expansion.
	Key string `mapstructure:"key"`
	// Model overrides the default model.
	Model string `mapstructure:"model"`
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the AWS credentials profile.
	AWSProfile string `mapstructure:"aws_profile"`
	// MaxTokens caps response length per worker call.
	MaxTokens int `mapstructure:"max_tokens"`
}

// Load loads configuration with the following precedence (highest first):
// 1. Environment variables (SPECFLOW_*, ANTHROPIC_API_KEY)
// 2. Project config (.specflow/config.yaml in cwd or a parent)
// 3. User config (~/.config/specflow/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SPECFLOW")
	v.AutomaticEnv()
	v.BindEnv("api.key", "ANTHROPIC_API_KEY")
	v.BindEnv("workers.max", "SPECFLOW_WORKERS_MAX")
	v.BindEnv("gates.auto", "SPECFLOW_GATES_AUTO")
	v.BindEnv("worker.command", "SPECFLOW_WORKER_COMMAND")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.API.Key = os.ExpandEnv(cfg.API.Key)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, on top of the
// built-in defaults. Used by tests and the --config flag.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.API.Key = os.ExpandEnv(cfg.API.Key)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workers.max", 4)
	v.SetDefault("workers.lease", "5m")
	v.SetDefault("workers.max_retries", 3)
	v.SetDefault("workers.stall_threshold", 3)

	v.SetDefault("interaction.batch_size", 3)

	v.SetDefault("gates.auto", false)
	v.SetDefault("gates.wait", "0s")
	v.SetDefault("gates.skip_clarify", false)

	v.SetDefault("worker.command", "")
	v.SetDefault("worker.timeout", "10m")

	v.SetDefault("api.key", "")
	v.SetDefault("api.model", "")
	v.SetDefault("api.use_bedrock", false)
	v.SetDefault("api.max_tokens", 8192)
}

// getUserConfigDir returns the XDG config directory for specflow.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "specflow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "specflow")
	}
	return filepath.Join(home, ".config", "specflow")
}

// findProjectConfig searches for .specflow/config.yaml in the current
// directory and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".specflow", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Workers: WorkersConfig{
			Max:            4,
			Lease:          5 * time.Minute,
			MaxRetries:     3,
			StallThreshold: 3,
		},
		Interaction: InteractionConfig{
			BatchSize: 3,
		},
		Worker: WorkerConfig{
			Timeout: 10 * time.Minute,
		},
		API: APIConfig{
			MaxTokens: 8192,
		},
	}
}
