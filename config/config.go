// Package config loads the refstress configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pavanmanishd/refptr"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g. REFSTRESS_STRESS_WORKERS.
const EnvPrefix = "REFSTRESS"

var (
	// ErrUnknownCounting is returned for a counting name other than atomic or plain.
	ErrUnknownCounting = errors.New("unknown counting mode")
	// ErrInvalid wraps every out-of-range or inconsistent setting.
	ErrInvalid = errors.New("invalid config")
)

// Config is the refstress configuration as read from YAML and the environment.
type Config struct {
	Refptr  Refptr  `yaml:"refptr" mapstructure:"refptr"`
	Stress  Stress  `yaml:"stress" mapstructure:"stress"`
	Cache   Cache   `yaml:"cache" mapstructure:"cache"`
	Metrics Metrics `yaml:"metrics" mapstructure:"metrics"`
	Log     Log     `yaml:"log" mapstructure:"log"`
}

// Refptr holds the library defaults applied with refptr.SetDefaults.
type Refptr struct {
	Counting   string `yaml:"counting" mapstructure:"counting"` // "atomic" or "plain"
	TrackLeaks bool   `yaml:"track_leaks" mapstructure:"track_leaks"`
}

// Stress sizes and paces the workload.
type Stress struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	OpsPerWorker int           `yaml:"ops_per_worker" mapstructure:"ops_per_worker"`
	Rate         float64       `yaml:"rate" mapstructure:"rate"` // ops per second across all workers, 0 means unlimited
	Burst        int           `yaml:"burst" mapstructure:"burst"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Seed         uint64        `yaml:"seed" mapstructure:"seed"`
}

// Cache sizes the handle cache exercised by the workload.
type Cache struct {
	Keys        int   `yaml:"keys" mapstructure:"keys"`
	NumCounters int64 `yaml:"num_counters" mapstructure:"num_counters"`
	MaxCost     int64 `yaml:"max_cost" mapstructure:"max_cost"`
	BufferItems int64 `yaml:"buffer_items" mapstructure:"buffer_items"`
}

// Metrics controls the HTTP metrics endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// Log controls the zerolog output of the command.
type Log struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refptr.counting", refptr.AtomicCounting.String())
	v.SetDefault("refptr.track_leaks", false)

	v.SetDefault("stress.workers", 8)
	v.SetDefault("stress.ops_per_worker", 10_000)
	v.SetDefault("stress.rate", 0)
	v.SetDefault("stress.burst", 100)
	v.SetDefault("stress.timeout", time.Minute)
	v.SetDefault("stress.seed", 1)

	v.SetDefault("cache.keys", 64)
	v.SetDefault("cache.num_counters", 10_000)
	v.SetDefault("cache.max_cost", 1_000)
	v.SetDefault("cache.buffer_items", 64)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads the YAML config at path on top of the built-in defaults.
// Dotenv files are loaded into the process environment first (a missing file
// is not an error), then REFSTRESS_* variables override file values.
// An empty path skips the file and uses defaults and environment only.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("stat config path: %w", err)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	counting, err := ParseCounting(c.Refptr.Counting)
	if err != nil {
		return err
	}
	switch {
	case c.Stress.Workers <= 0:
		return fmt.Errorf("%w: stress.workers must be positive, got %d", ErrInvalid, c.Stress.Workers)
	case counting == refptr.PlainCounting && c.Stress.Workers > 1:
		return fmt.Errorf("%w: refptr.counting plain is single-goroutine only, got stress.workers %d", ErrInvalid, c.Stress.Workers)
	case c.Stress.OpsPerWorker < 0:
		return fmt.Errorf("%w: stress.ops_per_worker must not be negative, got %d", ErrInvalid, c.Stress.OpsPerWorker)
	case c.Stress.Rate < 0:
		return fmt.Errorf("%w: stress.rate must not be negative, got %v", ErrInvalid, c.Stress.Rate)
	case c.Cache.NumCounters <= 0 || c.Cache.MaxCost <= 0 || c.Cache.BufferItems <= 0:
		return fmt.Errorf("%w: cache sizes must be positive", ErrInvalid)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	return nil
}

// ParseCounting maps a config name to a counting mode.
func ParseCounting(s string) (refptr.Counting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "atomic":
		return refptr.AtomicCounting, nil
	case "plain":
		return refptr.PlainCounting, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCounting, s)
	}
}

// RefptrOptions converts the refptr section into library options.
func (c *Config) RefptrOptions() (refptr.Options, error) {
	counting, err := ParseCounting(c.Refptr.Counting)
	if err != nil {
		return refptr.Options{}, err
	}
	return refptr.Options{Counting: counting, TrackLeaks: c.Refptr.TrackLeaks}, nil
}

// LogLevel returns the configured level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Marshal renders the effective config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
