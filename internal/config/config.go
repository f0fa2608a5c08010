package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "turing-chat"
	defaultConfig = ".config"
	defaultData   = ".local/share"

	// placeholderAPIKey is the value shipped in example configs.
	placeholderAPIKey = "your_deepseek_api_key_here"
	// defaultTuringURL is the local development query endpoint.
	defaultTuringURL = "http://localhost:8000/api/query"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// Backend names.
const (
	BackendChat   = "chat"
	BackendTuring = "turing"
)

// ChatConfig configures the chat-completion endpoint.
type ChatConfig struct {
	URL         string  `yaml:"url" default:"https://api.deepseek.com/v1/chat/completions"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model" default:"deepseek-chat"`
	Temperature float64 `yaml:"temperature" default:"1.0"`
	MaxTokens   int     `yaml:"max_tokens" default:"2000"`
}

// APIKeyConfigured reports whether a usable API key is set.
func (c ChatConfig) APIKeyConfigured() bool {
	return c.APIKey != "" && c.APIKey != placeholderAPIKey
}

// TuringConfig configures the retrieval-augmented query endpoint.
type TuringConfig struct {
	URL string `yaml:"url" default:"http://localhost:8000/api/query"`
}

// URLConfigured reports whether the query endpoint was changed from the local default.
func (c TuringConfig) URLConfigured() bool {
	return c.URL != "" && c.URL != defaultTuringURL
}

// HistoryConfig configures the local conversation store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path"`
}

// RenderConfig configures terminal output.
type RenderConfig struct {
	Format string `yaml:"format" default:"markdown"`
	Wrap   int    `yaml:"wrap" default:"120"`
}

// Prompt is a predefined prompt exposed as a subcommand.
type Prompt struct {
	Prompt  string `yaml:"prompt"`
	Backend string `yaml:"backend"`
}

// Config represents the structure of the configuration file used by the application.
type Config struct {
	Backend  string            `yaml:"backend" default:"turing"`
	LogLevel string            `yaml:"log_level" default:"info"`
	Chat     ChatConfig        `yaml:"chat"`
	Turing   TuringConfig      `yaml:"turing"`
	History  HistoryConfig     `yaml:"history"`
	Render   RenderConfig      `yaml:"render"`
	Prompts  map[string]Prompt `yaml:"prompts"`
}

// Validate checks values that cannot be fixed up by defaults.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendChat, BackendTuring:
	default:
		return fmt.Errorf("unknown backend %q (want %q or %q)", c.Backend, BackendChat, BackendTuring)
	}
	switch c.Render.Format {
	case "markdown", "plain":
	default:
		return fmt.Errorf("unknown render format %q", c.Render.Format)
	}
	for name, p := range c.Prompts {
		if p.Backend != "" && p.Backend != BackendChat && p.Backend != BackendTuring {
			return fmt.Errorf("prompt %q: unknown backend %q", name, p.Backend)
		}
	}
	return nil
}

// configResult is a struct used to return the configuration and any error that occurs during loading.
type configResult struct {
	config *Config
	err    error
}

// newDefaultConfig creates a new default configuration with an empty prompts map.
func newDefaultConfig() *Config {
	cfg := &Config{}
	defaults.MustSet(cfg)
	cfg.Prompts = map[string]Prompt{}
	return cfg
}

// getConfigPath retrieves the path to the configuration directory based on the XDG_CONFIG_HOME environment variable.
func getConfigPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(home, defaultConfig)
	}

	return filepath.Join(configHome, configDirName), nil
}

// getDataPath retrieves the directory holding the conversation history.
func getDataPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataHome = filepath.Join(home, defaultData)
	}

	return filepath.Join(dataHome, configDirName), nil
}

// tryLoadConfig attempts to load a configuration file from the specified path.
func tryLoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := newDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Prompts == nil {
		cfg.Prompts = map[string]Prompt{}
	}

	return cfg, nil
}

// LoadConfig loads the configuration from the user's home directory, with a timeout.
func LoadConfig(ctx context.Context) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := make(chan configResult, 1)

	go func() {
		cfg, err := loadConfigFiles(ctx)
		result <- configResult{config: cfg, err: err}
	}()

	done := ctx.Done()
	select {
	case <-done:
		return nil, ctx.Err()
	case r := <-result:
		return r.config, r.err
	}
}

// loadConfigFiles loads configuration files from the user's home directory,
// then applies environment overrides and resolves credentials.
func loadConfigFiles(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before loading config: %w", err)
	}

	configDir, err := getConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := readConfigDir(ctx, configDir)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = readCredentials(configDir)
	}

	if cfg.History.Path == "" {
		dataDir, err := getDataPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get data path: %w", err)
		}
		cfg.History.Path = filepath.Join(dataDir, "history.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readConfigDir(ctx context.Context, configDir string) (*Config, error) {
	// Return default config early if directory doesn't exist
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return newDefaultConfig(), nil
	}

	for _, filename := range configFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg, err := tryLoadConfig(filepath.Join(configDir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return newDefaultConfig(), nil
}
