package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

// ErrInvalidConfig wraps every validation failure returned by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type AppConfig struct {
	OpenWeatherAPIKey  string `mapstructure:"openweather_api_key" validate:"required"`
	OpenWeatherBaseURL string `mapstructure:"openweather_base_url" validate:"required,url"`

	// City is the single location tracked by the pipeline.
	City string `mapstructure:"weather_location_city" validate:"required"`

	// OutputDir is where the Parquet files land. Relative paths resolve against the working directory.
	OutputDir string `mapstructure:"output_dir" validate:"required"`

	// Schedule is a standard cron expression or descriptor such as @hourly.
	Schedule   string        `mapstructure:"schedule" validate:"required"`
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"gt=0"`

	HTTPTimeout         time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	FetchMaxAttempts    int           `mapstructure:"fetch_max_attempts" validate:"min=1,max=10"`
	FetchBackoffInitial time.Duration `mapstructure:"fetch_backoff_initial" validate:"gt=0"`
	FetchBackoffMax     time.Duration `mapstructure:"fetch_backoff_max" validate:"gtefield=FetchBackoffInitial"`

	HandoffBackend string        `mapstructure:"handoff_backend" validate:"oneof=memory redis"`
	RedisAddr      string        `mapstructure:"redis_addr" validate:"required_if=HandoffBackend redis"`
	HandoffTTL     time.Duration `mapstructure:"handoff_ttl" validate:"gte=0"`

	// LedgerPath is the SQLite run ledger file; empty disables the ledger.
	LedgerPath string `mapstructure:"ledger_path"`
	// HTTPAddr is the status API listen address; empty disables the server.
	HTTPAddr string `mapstructure:"http_addr"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`
}

var defaults = map[string]any{
	"openweather_base_url":  "https://api.openweathermap.org/data/2.5/weather",
	"weather_location_city": "Minsk",
	"output_dir":            "data",
	"schedule":              "@hourly",
	"run_timeout":           "2m",
	"http_timeout":          "10s",
	"fetch_max_attempts":    3,
	"fetch_backoff_initial": "2s",
	"fetch_backoff_max":     "10s",
	"handoff_backend":       BackendMemory,
	"redis_addr":            "localhost:6379",
	"handoff_ttl":           "1h",
	"ledger_path":           "",
	"http_addr":             "",
	"log_level":             "info",
	"log_format":            "console",
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional CONFIG_FILE)
// with sensible defaults, then validates it. The API key has no default.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	// AutomaticEnv only covers keys viper already knows about.
	if err := v.BindEnv("openweather_api_key"); err != nil {
		return nil, err
	}

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.City = strings.TrimSpace(cfg.City)
	cfg.HandoffBackend = strings.ToLower(cfg.HandoffBackend)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints, the city's file name form and the cron schedule.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Location().FileKey() == "" {
		return fmt.Errorf("%w: city %q has no letters or digits to name output files", ErrInvalidConfig, c.City)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, c.Schedule, err)
	}
	return nil
}

// Location returns the configured target location.
func (c *AppConfig) Location() weather.Location {
	return weather.Location{City: c.City}
}
