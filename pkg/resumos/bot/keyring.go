package bot

import (
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "resumos"

	// keyringAPIKey is the key name for the completion API key.
	keyringAPIKey = "api_key"
)

// StoreAPIKey saves the API key to the OS keyring.
func StoreAPIKey(value string) error {
	return keyring.Set(keyringService, keyringAPIKey, value)
}

// GetAPIKey retrieves the API key from the OS keyring, or "".
func GetAPIKey() string {
	val, err := keyring.Get(keyringService, keyringAPIKey)
	if err != nil {
		return ""
	}
	return val
}

// DeleteAPIKey removes the API key from the OS keyring.
func DeleteAPIKey() error {
	return keyring.Delete(keyringService, keyringAPIKey)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__resumos_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey resolves the API key with the priority keyring, then
// environment / config (already merged by the loader). It updates cfg in
// place and returns where the key came from: "keyring", "config" or "".
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if val := GetAPIKey(); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return "keyring"
	}

	if cfg.API.APIKey != "" && !isEnvReference(cfg.API.APIKey) {
		logger.Debug("API key loaded from config/env")
		return "config"
	}

	logger.Warn("no API key found. Set one with: resumos config set-key, or export OPENAI_API_KEY")
	return ""
}
