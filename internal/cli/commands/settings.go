// Copyright 2026 ExtVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"extvfs/internal/server"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change persistent settings",
	Long: `Show or change persistent extvfs settings.

Settings are stored in ~/.extvfs/settings.yaml and apply to every
command that reads them.

Examples:
  # Show current settings
  extvfs settings

  # Enable debug logging
  extvfs settings --log-level debug

  # Pin the NFS listen address
  extvfs settings --listen 127.0.0.1:2049

  # Shrink the attribute cache
  extvfs settings --cache-size 1024 --cache-ttl 500`,
	Args: cobra.NoArgs,
	RunE: runSettings,
}

var (
	settingsLogLevel    string
	settingsListen      string
	settingsCacheTTL    int
	settingsCacheSize   int
	settingsHandles     int
	settingsBusyTimeout int
)

func init() {
	settingsCmd.Flags().StringVar(&settingsLogLevel, "log-level", "", "Log level: trace, debug, info, warn, off")
	settingsCmd.Flags().StringVar(&settingsListen, "listen", "", "Default NFS listen address")
	settingsCmd.Flags().IntVar(&settingsCacheTTL, "cache-ttl", -1, "Attribute cache TTL in milliseconds")
	settingsCmd.Flags().IntVar(&settingsCacheSize, "cache-size", -1, "Attribute cache capacity in entries")
	settingsCmd.Flags().IntVar(&settingsHandles, "handle-cache", -1, "NFS handle cache capacity in entries")
	settingsCmd.Flags().IntVar(&settingsBusyTimeout, "busy-timeout", -1, "Catalog busy timeout in milliseconds (0 = built-in default)")
	rootCmd.AddCommand(settingsCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	settings, err := server.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// No flags provided: show current settings
	if !cmd.Flags().Changed("log-level") && !cmd.Flags().Changed("listen") &&
		settingsCacheTTL < 0 && settingsCacheSize < 0 &&
		settingsHandles < 0 && settingsBusyTimeout < 0 {
		fmt.Println("Current settings:")
		fmt.Printf("  Log level: %s\n", settings.LogLevel)
		fmt.Printf("  Listen: %s\n", settings.Listen)
		fmt.Printf("  Attribute cache: %d entries, %d ms TTL\n", settings.AttrCacheSize, settings.AttrCacheTTLMs)
		fmt.Printf("  Handle cache: %d entries\n", settings.HandleCacheSize)
		if settings.CatalogBusyTimeout > 0 {
			fmt.Printf("  Catalog busy timeout: %d ms\n", settings.CatalogBusyTimeout)
		}
		fmt.Println()
		fmt.Printf("Stored in %s\n", server.SettingsPath())
		fmt.Println()
		fmt.Println("To change settings:")
		fmt.Println("  extvfs settings --log-level <level>")
		fmt.Println("  extvfs settings --listen <addr>")
		return nil
	}

	if cmd.Flags().Changed("log-level") {
		if err := applyLogLevel(settings, settingsLogLevel); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("listen") {
		if _, _, err := net.SplitHostPort(settingsListen); err != nil {
			return fmt.Errorf("invalid --listen value %q: %w", settingsListen, err)
		}
		settings.Listen = settingsListen
		fmt.Printf("Listen address set to %s\n", settingsListen)
	}
	if settingsCacheTTL >= 0 {
		settings.AttrCacheTTLMs = settingsCacheTTL
		fmt.Printf("Attribute cache TTL set to %d ms\n", settingsCacheTTL)
	}
	if settingsCacheSize >= 0 {
		settings.AttrCacheSize = settingsCacheSize
		fmt.Printf("Attribute cache size set to %d\n", settingsCacheSize)
	}
	if settingsHandles >= 0 {
		settings.HandleCacheSize = settingsHandles
		fmt.Printf("Handle cache size set to %d\n", settingsHandles)
	}
	if settingsBusyTimeout >= 0 {
		settings.CatalogBusyTimeout = settingsBusyTimeout
		fmt.Printf("Catalog busy timeout set to %d ms\n", settingsBusyTimeout)
	}

	if err := server.SaveSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// applyLogLevel validates and records a log level change.
func applyLogLevel(settings *server.Settings, value string) error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "off": true,
	}
	normalized := value
	if normalized == "none" {
		normalized = "off"
	}
	if !validLevels[normalized] {
		return fmt.Errorf("invalid log level %q: must be one of trace, debug, info, warn, off", value)
	}
	settings.LogLevel = normalized
	fmt.Printf("Log level set to %s\n", normalized)
	return nil
}
