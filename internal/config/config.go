// Package config centralizes how ArchiveDrop reads its settings and exposes
// them as strongly typed Go values.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config file named by ARCHIVEDROP_CONFIG, and environment variables with
// the ARCHIVEDROP_ prefix. Nested keys use an underscore in the variable
// name, so "s3.bucket" is read from ARCHIVEDROP_S3_BUCKET.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ARCHIVEDROP"

// ErrMissingSecret is returned when no catalog secret is configured and
// insecure mode is off.
var ErrMissingSecret = errors.New("catalog secret not configured")

// Config represents runtime configuration.
type Config struct {
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	S3         S3Config         `mapstructure:"s3"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Log        LogConfig        `mapstructure:"log"`

	DatabaseURL string `mapstructure:"database_url"`
	// MaxWorkers overrides the pool size derived from the CPU count.
	MaxWorkers int `mapstructure:"max_workers"`
	// WorkDir holds per-job scratch directories.
	WorkDir string `mapstructure:"work_dir"`
	// ProcessedDir receives collections once their import is finalized.
	ProcessedDir string `mapstructure:"processed_dir"`
	// LedgerDir keeps the rename ledgers.
	LedgerDir     string `mapstructure:"ledger_dir"`
	StatusAddress string `mapstructure:"status_address"`
	// QueuePublish defers catalog publication and purges to the worker.
	QueuePublish bool `mapstructure:"queue_publish"`
	Insecure     bool `mapstructure:"insecure"`
}

// CatalogConfig locates the catalog service.
type CatalogConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// S3Config configures the object store.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// RedisConfig locates the asynq broker.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ToolsConfig locates the media programs and their shared inputs.
type ToolsConfig struct {
	FFmpeg      string `mapstructure:"ffmpeg"`
	Magick      string `mapstructure:"magick"`
	Tesseract   string `mapstructure:"tesseract"`
	Qpdf        string `mapstructure:"qpdf"`
	Ghostscript string `mapstructure:"ghostscript"`
	Watermark   string `mapstructure:"watermark"`
	OCRLanguage string `mapstructure:"ocr_language"`
}

// TranscribeConfig configures the speech-to-text service.
type TranscribeConfig struct {
	URL           string        `mapstructure:"url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	FallbackModel string        `mapstructure:"fallback_model"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment variables to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("catalog.url", "http://localhost:8000/api")
	v.SetDefault("catalog.secret", "")
	v.SetDefault("catalog.timeout", 30*time.Second)

	v.SetDefault("s3.endpoint", "localhost:9000")
	v.SetDefault("s3.access_key", "minioadmin")
	v.SetDefault("s3.secret_key", "minioadmin")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "archive")
	v.SetDefault("s3.use_ssl", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.magick", "magick")
	v.SetDefault("tools.tesseract", "tesseract")
	v.SetDefault("tools.qpdf", "qpdf")
	v.SetDefault("tools.ghostscript", "gs")
	v.SetDefault("tools.watermark", "")
	v.SetDefault("tools.ocr_language", "eng")

	v.SetDefault("transcribe.url", "")
	v.SetDefault("transcribe.api_key", "")
	v.SetDefault("transcribe.model", "large-v3")
	v.SetDefault("transcribe.fallback_model", "medium")
	v.SetDefault("transcribe.timeout", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database_url", "")
	v.SetDefault("max_workers", 0)
	v.SetDefault("work_dir", os.TempDir())
	v.SetDefault("processed_dir", "processed")
	v.SetDefault("ledger_dir", DefaultLedgerDir())
	v.SetDefault("status_address", ":8090")
	v.SetDefault("queue_publish", false)
	v.SetDefault("insecure", false)
}

// New returns a viper instance wired to the environment and the optional
// config file, with defaults set. Callers may bind flags to it before
// calling FromViper.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file := os.Getenv(EnvPrefix + "_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return v, nil
}

// Load reads the configuration from the environment and config file.
func Load() (*Config, error) {
	v, err := New()
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxWorkers < 0 {
		c.MaxWorkers = 0
	}
	if c.MaxWorkers > 4*runtime.NumCPU() {
		return fmt.Errorf("max_workers %d exceeds four times the CPU count", c.MaxWorkers)
	}
	if c.Catalog.Timeout <= 0 {
		c.Catalog.Timeout = 30 * time.Second
	}
	if c.Transcribe.Timeout <= 0 {
		c.Transcribe.Timeout = 10 * time.Minute
	}
	if c.Catalog.Secret == "" && !c.Insecure {
		return fmt.Errorf("%w: set %s_CATALOG_SECRET", ErrMissingSecret, EnvPrefix)
	}
	if c.ProcessedDir == "" {
		return errors.New("processed_dir must not be empty")
	}
	if c.LedgerDir == "" {
		c.LedgerDir = DefaultLedgerDir()
	}
	dir, err := filepath.Abs(c.LedgerDir)
	if err != nil {
		return fmt.Errorf("ledger_dir: %w", err)
	}
	c.LedgerDir = dir
	return nil
}

// DefaultLedgerDir is the per-user directory for rename ledgers. It does not
// depend on the working directory, so a rollback started from anywhere finds
// the ledger of an earlier run.
func DefaultLedgerDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "archivedrop", "ledger")
	}
	return filepath.Join(os.TempDir(), "archivedrop", "ledger")
}

// CatalogSecret returns the HMAC secret as bytes.
func (c *Config) CatalogSecret() []byte {
	return []byte(c.Catalog.Secret)
}
