package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed configs/*.yaml
var configsFS embed.FS

const defaultConfigName = "streamchat.yaml"

// getEmbeddedConfig returns the raw bytes of the built-in config file.
func getEmbeddedConfig() ([]byte, error) {
	return configsFS.ReadFile(filepath.Join("configs", defaultConfigName))
}

// writeDefaultConfig copies the built-in config to path. An existing file is
// kept unless overwrite is set.
func writeDefaultConfig(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config already exists: %s", path)
	}

	data, err := getEmbeddedConfig()
	if err != nil {
		return fmt.Errorf("failed to read embedded config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
