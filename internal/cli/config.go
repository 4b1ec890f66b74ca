package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv overrides the config file location.
const ConfigPathEnv = "CDPCTL_CONFIG"

// Config represents the CLI configuration
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig represents configuration for a specific environment. APIKey may
// be empty against servers that run without admin authentication.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cdpctl", "config.yaml"), nil
}

// LoadConfig loads the configuration from file. A missing file yields an
// empty config pointing at dev.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{
				DefaultEnv:   "dev",
				Environments: make(map[string]EnvConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvConfig)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetEnvConfig resolves the connection settings.
// Priority: command flags > environment variables > config file.
// A --base-url flag or CDP_BASE_URL alone is enough; the config file is then
// not consulted.
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, error) {
	envBaseURL := os.Getenv("CDP_BASE_URL")
	envAPIKey := os.Getenv("CDP_API_KEY")

	pick := func(flag, env, file string) string {
		switch {
		case flag != "":
			return flag
		case env != "":
			return env
		default:
			return file
		}
	}

	if baseURLFlag != "" || envBaseURL != "" {
		return &EnvConfig{
			BaseURL: pick(baseURLFlag, envBaseURL, ""),
			APIKey:  pick(apiKeyFlag, envAPIKey, ""),
		}, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if envName == "" {
		envName = cfg.DefaultEnv
	}

	envCfg, ok := cfg.Environments[envName]
	if !ok {
		return nil, fmt.Errorf("environment '%s' not found in config", envName)
	}
	envCfg.APIKey = pick(apiKeyFlag, envAPIKey, envCfg.APIKey)

	if envCfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url must be configured for environment '%s'", envName)
	}
	return &envCfg, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	cfg := &Config{
		DefaultEnv: "dev",
		Environments: map[string]EnvConfig{
			"dev": {
				BaseURL: "http://localhost:8000",
			},
			"prod": {
				BaseURL: "https://cdp.example.com",
				APIKey:  "change-me",
			},
		},
	}
	return SaveConfig(cfg)
}

// MaskKey hides all but the first four characters of key.
func MaskKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "***"
	}
	if key == "" {
		return ""
	}
	return "***"
}
