package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"PORT"`
	Env             string `mapstructure:"ENV"`
	BaseURL         string `mapstructure:"BASE_URL"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultPageSize int    `mapstructure:"DEFAULT_PAGE_SIZE"`
	MaxPageSize     int    `mapstructure:"MAX_PAGE_SIZE"`

	// SubSearchLimit bounds the intermediate result sets produced by
	// chained searches, _has resolution, and _revinclude. The upstream
	// data pipelines relied on effectively unbounded sub-searches; here
	// it is a hard cap.
	SubSearchLimit int `mapstructure:"SUB_SEARCH_LIMIT"`

	// SubOpTimeoutMS bounds each best-effort sub-operation (chain hops,
	// $everything reference fan-out). A timed-out branch is skipped.
	SubOpTimeoutMS int `mapstructure:"SUB_OP_TIMEOUT_MS"`

	MetadataCacheTTLSeconds int `mapstructure:"METADATA_CACHE_TTL_SECONDS"`

	// UpdateAsCreate allows PUT to an unknown id to create the resource.
	UpdateAsCreate bool `mapstructure:"UPDATE_AS_CREATE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8000/fhir")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_PAGE_SIZE", 20)
	v.SetDefault("MAX_PAGE_SIZE", 100)
	v.SetDefault("SUB_SEARCH_LIMIT", 1000)
	v.SetDefault("SUB_OP_TIMEOUT_MS", 5000)
	v.SetDefault("METADATA_CACHE_TTL_SECONDS", 300)
	v.SetDefault("UPDATE_AS_CREATE", false)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BASE_URL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("DEFAULT_PAGE_SIZE")
	v.BindEnv("MAX_PAGE_SIZE")
	v.BindEnv("SUB_SEARCH_LIMIT")
	v.BindEnv("SUB_OP_TIMEOUT_MS")
	v.BindEnv("METADATA_CACHE_TTL_SECONDS")
	v.BindEnv("UPDATE_AS_CREATE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// SubOpTimeout returns the bounded timeout applied to each best-effort
// sub-operation.
func (c *Config) SubOpTimeout() time.Duration {
	return time.Duration(c.SubOpTimeoutMS) * time.Millisecond
}

// MetadataCacheTTL returns the lifetime of the cached CapabilityStatement.
func (c *Config) MetadataCacheTTL() time.Duration {
	return time.Duration(c.MetadataCacheTTLSeconds) * time.Second
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("MAX_PAGE_SIZE (%d) must be >= DEFAULT_PAGE_SIZE (%d)", c.MaxPageSize, c.DefaultPageSize)
	}
	if c.SubSearchLimit <= 0 {
		return fmt.Errorf("SUB_SEARCH_LIMIT must be positive, got %d", c.SubSearchLimit)
	}
	if c.SubOpTimeoutMS <= 0 {
		return fmt.Errorf("SUB_OP_TIMEOUT_MS must be positive, got %d", c.SubOpTimeoutMS)
	}
	return nil
}
