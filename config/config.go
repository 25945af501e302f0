// Package config loads the server configuration from file and
// environment and builds the runtime pieces it describes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/affixlabs/affix/remote"
)

// Config is the full server configuration. Values come from, in order
// of precedence, environment variables (AFFIX_*), the configuration
// file, and defaults.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`

	// Storages declares the named storages attachments can live in.
	Storages map[string]StorageConfig `mapstructure:"storages" validate:"dive"`

	// Cache and Store name the two tiers uploads pass through: new
	// uploads land in Cache, promotion moves them to Store. Both must
	// name a configured storage.
	Cache string `mapstructure:"cache" validate:"required"`
	Store string `mapstructure:"store" validate:"required"`

	Queue QueueConfig `mapstructure:"queue"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`

	// MaxUploadSize bounds a single multipart upload, in bytes.
	MaxUploadSize int64 `mapstructure:"max_upload_size" validate:"gt=0"`

	// RemoteUploads enables attaching files fetched from URLs.
	RemoteUploads bool `mapstructure:"remote_uploads"`

	// RemoteMaxSize bounds a single remote fetch, in bytes.
	RemoteMaxSize int64 `mapstructure:"remote_max_size" validate:"gt=0"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig declares one named storage. Type picks the backend and
// the matching section configures it; the other sections are ignored.
type StorageConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=fs memory s3"`

	FS map[string]any `mapstructure:"fs"`
	S3 map[string]any `mapstructure:"s3"`
}

// QueueConfig picks the transport promotion and deletion jobs ride on.
// The database transport stores jobs next to the records and retries
// failures; redis trades that bookkeeping for latency.
type QueueConfig struct {
	Type  string         `mapstructure:"type" validate:"required,oneof=database redis"`
	Redis map[string]any `mapstructure:"redis"`
}

var validate = validator.New()

// Load reads the configuration at path, fills defaults and validates
// the result. An empty path looks for affix.yaml in the working
// directory, and finding no file at all is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AFFIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("affix")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = 32 << 20
	}
	if cfg.Server.RemoteMaxSize == 0 {
		cfg.Server.RemoteMaxSize = remote.DefaultMaxSize
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Cache == "" {
		cfg.Cache = "cache"
	}
	if cfg.Store == "" {
		cfg.Store = "store"
	}
	if cfg.Queue.Type == "" {
		cfg.Queue.Type = "database"
	}
}

// Validate checks cfg. Load calls it; it is exported for embedders
// building configurations by hand.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s failed %q validation", e.Namespace(), e.Tag())
		}
		return err
	}
	if len(cfg.Storages) == 0 {
		return errors.New("config: at least one storage must be configured")
	}
	if _, ok := cfg.Storages[cfg.Cache]; !ok {
		return fmt.Errorf("config: cache storage %q is not configured", cfg.Cache)
	}
	if _, ok := cfg.Storages[cfg.Store]; !ok {
		return fmt.Errorf("config: store storage %q is not configured", cfg.Store)
	}
	return nil
}

// NewLogger builds the process logger the configuration describes.
// Debug forces the level down regardless of the configured one.
func NewLogger(cfg *LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
