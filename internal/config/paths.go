package config

import (
	"os"
	"path/filepath"
)

// appDir is the directory name under the XDG config root.
const appDir = "syncwatch"

// configRoot resolves the base config directory: $XDG_CONFIG_HOME, falling
// back to ~/.config. An unresolvable home directory yields a relative path
// so the CLI still works in minimal containers.
func configRoot() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return appDir
	}

	return filepath.Join(home, ".config", appDir)
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(configRoot(), "config.toml")
}

// CredentialPath returns the credential file location.
func CredentialPath() string {
	return filepath.Join(configRoot(), "credentials.json")
}
