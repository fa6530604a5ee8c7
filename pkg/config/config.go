package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/bodhi/pkg/configutil"
	"github.com/harunnryd/bodhi/pkg/errorsx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "BODHI"

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Stream        StreamConfig        `mapstructure:"stream"`
	Batch         BatchConfig         `mapstructure:"batch"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Storage       StorageConfig       `mapstructure:"storage"`
}

type ServerConfig struct {
	URL     string `mapstructure:"url"`
	HTTPURL string `mapstructure:"http_url"`
}

type AuthConfig struct {
	APIKey     string `mapstructure:"api_key"`
	CustomerID string `mapstructure:"customer_id"`
}

type StreamConfig struct {
	Model            string `mapstructure:"model"`
	SampleRate       int    `mapstructure:"sample_rate"`
	IntervalMS       int    `mapstructure:"interval_ms"`
	ConnectTimeoutMS int    `mapstructure:"connect_timeout_ms"`
	CancelWaitMS     int    `mapstructure:"cancel_wait_ms"`
	DrainTimeoutMS   int    `mapstructure:"drain_timeout_ms"`
}

func (s StreamConfig) Interval() time.Duration       { return configutil.Millis(s.IntervalMS) }
func (s StreamConfig) ConnectTimeout() time.Duration { return configutil.Millis(s.ConnectTimeoutMS) }
func (s StreamConfig) CancelWait() time.Duration     { return configutil.Millis(s.CancelWaitMS) }
func (s StreamConfig) DrainTimeout() time.Duration   { return configutil.Millis(s.DrainTimeoutMS) }

type BatchConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	BackoffMS  int `mapstructure:"backoff_ms"`
}

type ProviderConfig struct {
	Name     string         `mapstructure:"name"`
	Settings map[string]any `mapstructure:"settings"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string  `mapstructure:"artifacts_dir"`
	RetentionDays int     `mapstructure:"retention_days"`
	MetricsFile   string  `mapstructure:"metrics_file"`
	SampleRate    float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are skipped; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with every default and the environment
// bindings applied. Callers may bind flags before passing it to Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.url", "wss://bodhi.navana.ai")
	v.SetDefault("server.http_url", "https://bodhi.navana.ai/api/transcribe")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.customer_id", "")
	v.SetDefault("stream.model", "hi-banking-v2-8khz")
	v.SetDefault("stream.sample_rate", 8000)
	v.SetDefault("stream.interval_ms", 20)
	v.SetDefault("stream.connect_timeout_ms", 10000)
	v.SetDefault("stream.cancel_wait_ms", 2000)
	v.SetDefault("stream.drain_timeout_ms", 10000)
	v.SetDefault("batch.max_retries", 2)
	v.SetDefault("batch.backoff_ms", 200)
	v.SetDefault("provider.name", "bodhi")
	v.SetDefault("provider.settings", map[string]any{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.metrics_file", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", false)
	v.SetDefault("storage.path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Credentials also come from the short names used in .env files.
	_ = v.BindEnv("auth.api_key", EnvPrefix+"_API_KEY", EnvPrefix+"_AUTH_API_KEY", "API_KEY")
	_ = v.BindEnv("auth.customer_id", EnvPrefix+"_CUSTOMER_ID", EnvPrefix+"_AUTH_CUSTOMER_ID", "CUSTOMER_ID")
	return v
}

// LoadConfig reads the optional config file at path on top of defaults and
// environment.
func LoadConfig(path string) (Config, error) {
	return Load(NewViper(), path)
}

func Load(v *viper.Viper, path string) (Config, error) {
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfig)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfig)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfig)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Server.URL, "server.url"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Stream.Model, "stream.model"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Provider.Name, "provider.name"); err != nil {
		return err
	}
	if c.Stream.SampleRate <= 0 {
		return fmt.Errorf("stream.sample_rate must be positive, got %d", c.Stream.SampleRate)
	}
	if c.Stream.IntervalMS < 0 {
		return fmt.Errorf("stream.interval_ms must not be negative, got %d", c.Stream.IntervalMS)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0,1], got %v", c.Observability.SampleRate)
	}
	return nil
}

// RequireCredentials checks the credentials needed by the hosted service.
func (c *Config) RequireCredentials() error {
	if err := configutil.RequireString(c.Auth.APIKey, "auth.api_key"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if err := configutil.RequireString(c.Auth.CustomerID, "auth.customer_id"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Provider.Settings = expandSettings(cfg.Provider.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	}
}
