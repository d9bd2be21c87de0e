// Package config loads deduplines settings from an optional config file,
// a .env file and DEDUPLINES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"deduplines/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. DEDUPLINES_ENGINE_SPLITS.
const EnvPrefix = "DEDUPLINES"

// Config is the full application configuration.
type Config struct {
	Engine  Engine        `mapstructure:"engine"`
	Log     logger.Config `mapstructure:"log"`
	Metrics Metrics       `mapstructure:"metrics"`
}

// Engine holds the knobs passed through to the dedup engine.
type Engine struct {
	// Splits is the number of on-disk shards.
	Splits int `mapstructure:"splits" default:"32"`
	// Threads is the worker count; 0 or less means one per CPU.
	Threads int `mapstructure:"threads" default:"0"`
	// Compression is the shard file codec: none, lz4 or zstd.
	Compression string `mapstructure:"compression" default:"none"`
	// StripCR drops a trailing carriage return from every input line.
	StripCR bool `mapstructure:"strip_cr" default:"false"`
	// MaxShardBytes caps the in-memory table of one shard; 0 is unlimited.
	MaxShardBytes int64 `mapstructure:"max_shard_bytes" default:"0"`
	// WorkDir is the parent for per-run working directories; empty means os.TempDir.
	WorkDir string `mapstructure:"work_dir" default:""`
	// KeepWorkDir leaves shard files in place after the run for inspection.
	KeepWorkDir bool `mapstructure:"keep_work_dir" default:"false"`
}

// Metrics selects and configures the metrics backend.
type Metrics struct {
	// Backend is none, pushgateway or datadog.
	Backend        string `mapstructure:"backend" default:"none"`
	PushgatewayURL string `mapstructure:"pushgateway_url" default:""`
	DatadogAddr    string `mapstructure:"datadog_addr" default:""`
	// Job labels every metric and groups Pushgateway pushes.
	Job string `mapstructure:"job" default:"deduplines"`
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind CLI flags onto it before calling Decode.
func New() *viper.Viper {
	v := viper.New()
	bindValues(v, Config{}, "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads dir/.env (if present) into the process environment and, when
// file is non-empty, the given config file, then decodes the result.
func Load(v *viper.Viper, dir, file string) (*Config, error) {
	envPath := ".env"
	if dir != "" && dir != "." {
		envPath = filepath.Join(dir, ".env")
	}
	// A missing .env is normal outside development.
	_ = godotenv.Overload(envPath)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// bindValues walks the struct and registers every mapstructure key with its
// default tag so AutomaticEnv can resolve it.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}

// Err folds the error-severity issues into one error, or nil.
func Err(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return errors.Join(errs...)
}
