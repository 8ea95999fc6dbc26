package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"extvfs/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses EXTVFS_CONFIG_DIR env var if set, otherwise defaults to ~/.extvfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("EXTVFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".extvfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the global settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// CatalogPath returns the image catalog database path
func CatalogPath() string {
	return filepath.Join(getConfigDir(), "catalog.db")
}

// LogPath returns the log file path.
// Uses EXTVFS_LOG env var if set, otherwise defaults to config_dir/extvfs.log.
func LogPath() string {
	if envPath := os.Getenv("EXTVFS_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "extvfs.log")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create default settings file if not exists (using template)
	settingsPath := SettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}

	return nil
}

// Settings represents global server settings
type Settings struct {
	LogLevel           string `yaml:"log_level"`            // Log level: trace, debug, info, warn, off (default: warn)
	Listen             string `yaml:"listen"`               // NFS listen address; port 0 picks a free port (default: 127.0.0.1:0)
	AttrCacheTTLMs     int    `yaml:"attr_cache_ttl_ms"`    // Attribute cache TTL in milliseconds (default: 2000)
	AttrCacheSize      int    `yaml:"attr_cache_size"`      // Attribute cache capacity (default: 4096)
	HandleCacheSize    int    `yaml:"handle_cache_size"`    // NFS file handle cache capacity (default: 65536)
	CatalogBusyTimeout int    `yaml:"catalog_busy_timeout"` // SQLite busy_timeout for the catalog (ms), 0 = use default
}

// ApplyDefaults fills zero-value fields with their defaults.
// CatalogBusyTimeout stays zero; the catalog layer treats zero as its
// own built-in default.
func (s *Settings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "warn"
	}
	if s.Listen == "" {
		s.Listen = "127.0.0.1:0"
	}
	if s.AttrCacheTTLMs == 0 {
		s.AttrCacheTTLMs = 2000
	}
	if s.AttrCacheSize == 0 {
		s.AttrCacheSize = 4096
	}
	if s.HandleCacheSize == 0 {
		s.HandleCacheSize = 65536
	}
}

// LoggingEnabled returns whether logging is enabled (any level other than "off" or empty).
func (s *Settings) LoggingEnabled() bool {
	level := strings.ToLower(s.LogLevel)
	return level != "" && level != "off"
}

// loadDefaultSettings parses default settings from embedded artifact.
func loadDefaultSettings() Settings {
	var settings Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	settings.ApplyDefaults()
	return settings
}

// LoadSettings loads the global settings from ~/.extvfs/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults if file doesn't exist.
func LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults from embedded artifact
			settings := loadDefaultSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.ApplyDefaults()

	return &settings, nil
}

// SaveSettings saves the global settings to ~/.extvfs/settings.yaml
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	// Add header comment (same as template header)
	header := []byte("# ExtVFS global settings\n# See: extvfs settings --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
