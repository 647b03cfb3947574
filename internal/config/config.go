// Package config loads tracker settings from defaults, an optional YAML file
// and TRACKER_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/satellite-tracker/core"
	"github.com/signalsfoundry/satellite-tracker/internal/logging"
	"github.com/signalsfoundry/satellite-tracker/internal/observability"
	"github.com/signalsfoundry/satellite-tracker/internal/quota"
	"github.com/signalsfoundry/satellite-tracker/internal/tracker"
)

// EnvPrefix prefixes every environment override, e.g. TRACKER_UPSTREAM_API_KEY.
const EnvPrefix = "TRACKER"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full server configuration.
type Config struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
	HTTPAddr string `mapstructure:"http_addr"`

	Upstream UpstreamConfig              `mapstructure:"upstream"`
	Observer ObserverConfig              `mapstructure:"observer"`
	Loops    LoopsConfig                 `mapstructure:"loops"`
	Hub      HubConfig                   `mapstructure:"hub"`
	Catalog  CatalogConfig               `mapstructure:"catalog"`
	Redis    RedisConfig                 `mapstructure:"redis"`
	Log      LogConfig                   `mapstructure:"log"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
}

// UpstreamConfig describes the position provider and its call budget.
type UpstreamConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	DailyLimit  int           `mapstructure:"daily_limit"`
	HourlyLimit int           `mapstructure:"hourly_limit"`
}

// ObserverConfig is the ground point look angles are computed from.
type ObserverConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Latitude   float64 `mapstructure:"latitude"`
	Longitude  float64 `mapstructure:"longitude"`
	AltitudeKm float64 `mapstructure:"altitude_km"`
}

// LoopsConfig holds update loop cadences and sweep tuning.
type LoopsConfig struct {
	RealInterval    time.Duration `mapstructure:"real_interval"`
	PredictInterval time.Duration `mapstructure:"predict_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	SweepBatch      int           `mapstructure:"sweep_batch"`
	SweepReserve    float64       `mapstructure:"sweep_reserve"`
	Concurrency     int           `mapstructure:"concurrency"`
}

// HubConfig tunes client fan-out.
type HubConfig struct {
	BufferSize  int `mapstructure:"buffer_size"`
	SearchLimit int `mapstructure:"search_limit"`
}

// CatalogConfig selects the catalog source. Empty values fall back to the
// built-in list.
type CatalogConfig struct {
	Path        string `mapstructure:"path"`
	DatabaseURL string `mapstructure:"database_url"`
}

// RedisConfig enables quota persistence when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
	Key string `mapstructure:"key"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	def := tracker.DefaultConfig()

	v.SetDefault("grpc_addr", ":50051")
	v.SetDefault("http_addr", ":8080")

	v.SetDefault("upstream.base_url", "https://api.n2yo.com/rest/v1/satellite")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.timeout", def.UpstreamTimeout)
	v.SetDefault("upstream.daily_limit", 1000)
	v.SetDefault("upstream.hourly_limit", 100)

	v.SetDefault("observer.enabled", false)
	v.SetDefault("observer.latitude", 0.0)
	v.SetDefault("observer.longitude", 0.0)
	v.SetDefault("observer.altitude_km", 0.0)

	v.SetDefault("loops.real_interval", def.RealInterval)
	v.SetDefault("loops.predict_interval", def.PredictInterval)
	v.SetDefault("loops.sweep_interval", def.SweepInterval)
	v.SetDefault("loops.flush_interval", def.FlushInterval)
	v.SetDefault("loops.sweep_batch", def.SweepBatch)
	v.SetDefault("loops.sweep_reserve", def.SweepReserve)
	v.SetDefault("loops.concurrency", def.Concurrency)

	v.SetDefault("hub.buffer_size", 64)
	v.SetDefault("hub.search_limit", tracker.DefaultSearchLimit)

	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.database_url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key", quota.DefaultRedisKey)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "satellite-tracker")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads configuration. path may be empty to skip the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.GRPCAddr != "", "grpc_addr is required")
	check(c.Upstream.BaseURL != "", "upstream.base_url is required")
	check(c.Upstream.Timeout > 0, "upstream.timeout must be > 0")
	check(c.Upstream.DailyLimit > 0, "upstream.daily_limit must be > 0")
	check(c.Upstream.HourlyLimit > 0, "upstream.hourly_limit must be > 0")
	check(c.Loops.RealInterval > 0, "loops.real_interval must be > 0")
	check(c.Loops.PredictInterval > 0, "loops.predict_interval must be > 0")
	check(c.Loops.SweepInterval > 0, "loops.sweep_interval must be > 0")
	check(c.Loops.FlushInterval > 0, "loops.flush_interval must be > 0")
	check(c.Loops.SweepBatch >= 0, "loops.sweep_batch must be >= 0")
	check(c.Loops.SweepReserve >= 0 && c.Loops.SweepReserve < 1, "loops.sweep_reserve must be in [0, 1)")
	check(c.Loops.Concurrency > 0, "loops.concurrency must be > 0")
	check(c.Hub.BufferSize > 0, "hub.buffer_size must be > 0")
	check(c.Hub.SearchLimit > 0, "hub.search_limit must be > 0")
	if c.Observer.Enabled {
		check(c.Observer.Latitude >= -90 && c.Observer.Latitude <= 90, "observer.latitude must be in [-90, 90]")
		check(c.Observer.Longitude >= -180 && c.Observer.Longitude <= 180, "observer.longitude must be in [-180, 180]")
	}
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sample_ratio must be in [0, 1]")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Logging converts the log section for logging.New.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		AddSource:  true,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Tracker converts the loop section for tracker.WithConfig.
func (c Config) Tracker() tracker.Config {
	return tracker.Config{
		RealInterval:    c.Loops.RealInterval,
		PredictInterval: c.Loops.PredictInterval,
		SweepInterval:   c.Loops.SweepInterval,
		FlushInterval:   c.Loops.FlushInterval,
		SweepBatch:      c.Loops.SweepBatch,
		SweepReserve:    c.Loops.SweepReserve,
		Concurrency:     c.Loops.Concurrency,
		UpstreamTimeout: c.Upstream.Timeout,
	}
}

// ObserverPoint returns the configured observer, if enabled.
func (c Config) ObserverPoint() (core.Observer, bool) {
	if !c.Observer.Enabled {
		return core.Observer{}, false
	}
	return core.Observer{
		LatitudeDeg:  c.Observer.Latitude,
		LongitudeDeg: c.Observer.Longitude,
		AltitudeKm:   c.Observer.AltitudeKm,
	}, true
}
