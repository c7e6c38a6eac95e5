// Package cmd implements the CLI commands for vidarr.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidarr/internal/config"
	"github.com/jmylchreest/vidarr/internal/observability"
	"github.com/jmylchreest/vidarr/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "vidarr",
	Short:   "Self-hosted video ingest and publishing service",
	Version: version.Short(),
	Long: `vidarr ingests videos from uploads, direct URLs, torrents, and
yt-dlp-supported sites, transcodes them to an AV1/Opus WebM mezzanine,
and serves the result over HTTP with lazily generated HLS and DASH
renditions.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/vidarr, $HOME/.vidarr)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig reads the configuration and applies CLI logging overrides.
// Flags only win when explicitly set, so the priority stays
// flag > env > config file > default.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		cfg.Logging.Level = normalizeLevel(level)
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ := rootCmd.PersistentFlags().GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}

	return cfg, nil
}

// normalizeLevel lowercases a level and accepts "warning" as an alias.
func normalizeLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	return level
}

// setupLogger builds the process logger and installs it as the slog
// default.
func setupLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
	return logger
}
