// Package config provides configuration management for vidarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/pkg/bytesize"
)

// Default configuration values.
const (
	defaultServerPort      = 3000
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultCRF             = 30
	defaultCPUUsed         = 6
	defaultVAAPIDevice     = "/dev/dri/renderD128"
	defaultJanitorInterval = 60 * time.Second
	defaultMinFreeBytes    = 5 * bytesize.GB
	defaultMinFreeRatio    = 0.1
	defaultCleanupBatch    = 5
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Binaries  BinariesConfig  `mapstructure:"binaries"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds the published library location.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// TranscodeConfig holds encoder defaults. Encoder empty means probe and
// fall back automatically.
type TranscodeConfig struct {
	Encoder     string `mapstructure:"encoder"` // videotoolbox, nvenc, qsv, vaapi, software, or empty for auto
	VAAPIDevice string `mapstructure:"vaapi_device"`
	CRF         int    `mapstructure:"crf"`
	CPUUsed     int    `mapstructure:"cpu_used"`
}

// JanitorConfig holds disk pressure cleanup configuration.
type JanitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// MinFreeBytes supports human-readable values like "5GB".
	MinFreeBytes ByteSize `mapstructure:"min_free_bytes"`
	MinFreeRatio float64  `mapstructure:"min_free_ratio"`
	CleanupBatch int      `mapstructure:"cleanup_batch"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BinariesConfig holds explicit external tool paths (empty = auto-detect).
type BinariesConfig struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
	Aria2c  string `mapstructure:"aria2c"`
	YtDlp   string `mapstructure:"ytdlp"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDARR_ and use underscores for
// nesting. Example: VIDARR_SERVER_PORT=3000.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidarr")
		v.AddConfigPath("$HOME/.vidarr")
	}

	v.SetEnvPrefix("VIDARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// The text-unmarshaller hook lets ByteSize fields accept values
	// like "5GB" from files and the environment.
	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.root", "./data")

	// Transcode defaults
	v.SetDefault("transcode.encoder", "")
	v.SetDefault("transcode.vaapi_device", defaultVAAPIDevice)
	v.SetDefault("transcode.crf", defaultCRF)
	v.SetDefault("transcode.cpu_used", defaultCPUUsed)

	// Janitor defaults
	v.SetDefault("janitor.interval", defaultJanitorInterval)
	v.SetDefault("janitor.min_free_bytes", int64(defaultMinFreeBytes))
	v.SetDefault("janitor.min_free_ratio", defaultMinFreeRatio)
	v.SetDefault("janitor.cleanup_batch", defaultCleanupBatch)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Binary paths (empty = auto-detect)
	v.SetDefault("binaries.ffmpeg", "")
	v.SetDefault("binaries.ffprobe", "")
	v.SetDefault("binaries.aria2c", "")
	v.SetDefault("binaries.ytdlp", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}

	if c.Transcode.Encoder != "" {
		if _, err := ffmpeg.ParseEncoder(c.Transcode.Encoder); err != nil {
			return fmt.Errorf("transcode.encoder: %w", err)
		}
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 63 {
		return fmt.Errorf("transcode.crf must be between 0 and 63")
	}
	if c.Transcode.CPUUsed < 0 || c.Transcode.CPUUsed > 8 {
		return fmt.Errorf("transcode.cpu_used must be between 0 and 8")
	}

	if c.Janitor.Interval < time.Second {
		return fmt.Errorf("janitor.interval must be at least 1s")
	}
	if c.Janitor.MinFreeRatio < 0 || c.Janitor.MinFreeRatio >= 1 {
		return fmt.Errorf("janitor.min_free_ratio must be in [0, 1)")
	}
	if c.Janitor.CleanupBatch < 1 {
		return fmt.Errorf("janitor.cleanup_batch must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
