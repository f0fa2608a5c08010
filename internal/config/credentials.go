package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Environment overrides.
const (
	EnvChatURL   = "DEEPSEEK_API_URL"
	EnvChatKey   = "DEEPSEEK_API_KEY"
	EnvTuringURL = "TURING_API_URL"
	EnvBackend   = "TURING_CHAT_BACKEND"
)

const credentialsFile = "credentials.json"

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvChatURL); v != "" {
		cfg.Chat.URL = v
	}
	if v := os.Getenv(EnvChatKey); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv(EnvTuringURL); v != "" {
		cfg.Turing.URL = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(v))
	}
}

// readJSONFile reads a JSON file and unmarshals it into the provided variable.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// readCredentials looks up the chat API key in the credentials file of configDir.
// A missing or unreadable file yields an empty key.
func readCredentials(configDir string) string {
	var creds map[string]any
	if err := readJSONFile(filepath.Join(configDir, credentialsFile), &creds); err != nil {
		return ""
	}
	return extractAPIKey(creds)
}

// extractAPIKey helps extract the key from credentials data
func extractAPIKey(creds map[string]any) string {
	for provider, data := range creds {
		if !strings.Contains(strings.ToLower(provider), "deepseek") {
			continue
		}

		keyData, ok := data.(map[string]any)
		if !ok {
			continue
		}

		if key, ok := keyData["api_key"].(string); ok && key != "" {
			return key
		}
	}
	return ""
}
