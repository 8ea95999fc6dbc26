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
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"extvfs/internal/catalog"
	"extvfs/internal/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	// Prod build: version with date
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "extvfs",
	Short: "Inspect, serve and build ext4 filesystem images",
	Long: `Read-only toolkit for ext4 filesystem images: inspect and extract their
contents, index them into a searchable catalog, export them over NFS,
and build new images from directory trees.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Initialize config directory
		if err := server.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		settings, err := server.LoadSettings()
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}

		// The --log-level flag overrides the settings file
		level := settings.LogLevel
		if logLevelFlag != "" {
			level = logLevelFlag
		}
		configureLogging(level)

		if settings.CatalogBusyTimeout > 0 {
			catalog.SetConfigBusyTimeout(settings.CatalogBusyTimeout)
		}

		return nil
	},
}

// configureLogging sets the logrus level (case insensitive); "off"
// discards all output.
func configureLogging(level string) {
	switch strings.ToLower(level) {
	case "off", "none", "":
		log.SetOutput(io.Discard)
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("extvfs version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, off (overrides settings)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
