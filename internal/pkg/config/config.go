package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	Viewport  ViewportConfig  `mapstructure:"viewport"`
	Geometry  GeometryConfig  `mapstructure:"geometry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

// OverpassConfig tunes the upstream road-data client.
type OverpassConfig struct {
	URL             string `mapstructure:"url"`
	Contact         string `mapstructure:"contact"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	CooldownSeconds int    `mapstructure:"cooldown_seconds"`
}

// ViewportConfig tunes the fetch coordination pipeline.
type ViewportConfig struct {
	DebounceMillis  int     `mapstructure:"debounce_ms"`
	EpsilonDeg      float64 `mapstructure:"epsilon_deg"`
	ContainMargin   float64 `mapstructure:"contain_margin"`
	CacheTTLSeconds int     `mapstructure:"cache_ttl_seconds"`
}

// GeometryConfig tunes import thinning and marker defaults.
type GeometryConfig struct {
	DecimateThreshold     int     `mapstructure:"decimate_threshold"`
	DecimateSpacingMeters float64 `mapstructure:"decimate_spacing_meters"`
	MarkerIntervalMeters  float64 `mapstructure:"marker_interval_meters"`
}

type StorageConfig struct {
	MaxRoutes int `mapstructure:"max_routes"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gravelmap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "gravelmap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("overpass.url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.contact", "https://gravelmap.example/contact")
	v.SetDefault("overpass.timeout_seconds", 30)
	v.SetDefault("overpass.max_attempts", 3)
	v.SetDefault("overpass.cooldown_seconds", 60)
	v.SetDefault("viewport.debounce_ms", 500)
	v.SetDefault("viewport.epsilon_deg", 0.0005)
	v.SetDefault("viewport.contain_margin", 0.001)
	v.SetDefault("viewport.cache_ttl_seconds", 600)
	v.SetDefault("geometry.decimate_threshold", 2000)
	v.SetDefault("geometry.decimate_spacing_meters", 15)
	v.SetDefault("geometry.marker_interval_meters", 1000)
	v.SetDefault("storage.max_routes", 50)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GRAVELMAP_DATABASE_HOST → database.host
	v.SetEnvPrefix("GRAVELMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Overpass.URL == "" {
		errs = append(errs, "overpass.url is required")
	}
	if c.Overpass.MaxAttempts <= 0 {
		errs = append(errs, "overpass.max_attempts must be positive")
	}
	if c.Viewport.DebounceMillis < 0 {
		errs = append(errs, "viewport.debounce_ms must not be negative")
	}
	if c.Viewport.EpsilonDeg < 0 {
		errs = append(errs, "viewport.epsilon_deg must not be negative")
	}
	if c.Geometry.DecimateSpacingMeters <= 0 {
		errs = append(errs, "geometry.decimate_spacing_meters must be positive")
	}
	if c.Geometry.MarkerIntervalMeters <= 0 {
		errs = append(errs, "geometry.marker_interval_meters must be positive")
	}
	if c.Storage.MaxRoutes <= 0 {
		errs = append(errs, "storage.max_routes must be positive")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
