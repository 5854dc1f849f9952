package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/ulule/limiter/v3"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Severity scopes
const (
	SeverityScopePrimary = "primary"
	SeverityScopeAll     = "all"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Geometry  GeometryConfig
	Auth      AuthConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
	Migrate  bool
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// GeometryConfig holds the overlap and measurement conventions.
type GeometryConfig struct {
	PlotSizeSqFt    float64
	EpsilonM2       float64
	SeverityScope   string
	LockCellDegrees float64
}

// AuthConfig holds verification settings for tokens issued by the identity service.
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	ReviewerRoles []string
}

// KafkaConfig holds the ticket event stream settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers     []string
	TicketTopic string
}

// RateLimitConfig holds limiter rates in "<limit>-<period>" form, e.g. "30-M".
type RateLimitConfig struct {
	Submit string
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "parcelguard")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("PLOT_SIZE_SQFT", 7000.0)
	v.SetDefault("OVERLAP_EPSILON_M2", 1.0)
	v.SetDefault("SEVERITY_SCOPE", SeverityScopePrimary)
	v.SetDefault("LOCK_CELL_DEGREES", 0.01)
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("REVIEWER_ROLES", "admin,reviewer")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TICKET_TOPIC", "parcel.tickets")
	v.SetDefault("RATE_LIMIT_SUBMIT", "30-M")

	// Bind environment variables
	v.AutomaticEnv()

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
			Migrate:  v.GetBool("DB_MIGRATE"),
		},
		CORS: CORSConfig{
			Origins: splitList(v.GetString("CORS_ORIGINS")),
		},
		Geometry: GeometryConfig{
			PlotSizeSqFt:    v.GetFloat64("PLOT_SIZE_SQFT"),
			EpsilonM2:       v.GetFloat64("OVERLAP_EPSILON_M2"),
			SeverityScope:   strings.ToLower(v.GetString("SEVERITY_SCOPE")),
			LockCellDegrees: v.GetFloat64("LOCK_CELL_DEGREES"),
		},
		Auth: AuthConfig{
			JWTSecret:     v.GetString("JWT_SECRET"),
			JWTIssuer:     v.GetString("JWT_ISSUER"),
			ReviewerRoles: splitList(v.GetString("REVIEWER_ROLES")),
		},
		Kafka: KafkaConfig{
			Brokers:     splitList(v.GetString("KAFKA_BROKERS")),
			TicketTopic: v.GetString("KAFKA_TICKET_TOPIC"),
		},
		RateLimit: RateLimitConfig{
			Submit: v.GetString("RATE_LIMIT_SUBMIT"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if err := c.Database.validate(); err != nil {
			return err
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Store.Driver)
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	// Validate geometry conventions
	if c.Geometry.PlotSizeSqFt <= 0 {
		return fmt.Errorf("PLOT_SIZE_SQFT must be positive")
	}
	if c.Geometry.EpsilonM2 <= 0 {
		return fmt.Errorf("OVERLAP_EPSILON_M2 must be positive")
	}
	if c.Geometry.SeverityScope != SeverityScopePrimary && c.Geometry.SeverityScope != SeverityScopeAll {
		return fmt.Errorf("SEVERITY_SCOPE must be %q or %q", SeverityScopePrimary, SeverityScopeAll)
	}
	if c.Geometry.LockCellDegrees <= 0 || c.Geometry.LockCellDegrees > 1 {
		return fmt.Errorf("LOCK_CELL_DEGREES must be in (0, 1]")
	}

	// Validate auth config
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Auth.ReviewerRoles) == 0 {
		return fmt.Errorf("REVIEWER_ROLES is required")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.TicketTopic == "" {
		return fmt.Errorf("KAFKA_TICKET_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.RateLimit.Submit == "" {
		return fmt.Errorf("RATE_LIMIT_SUBMIT is required")
	}
	if _, err := limiter.NewRateFromFormatted(c.RateLimit.Submit); err != nil {
		return fmt.Errorf("RATE_LIMIT_SUBMIT is invalid: %w", err)
	}

	return nil
}

func (d DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if d.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if d.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if d.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if d.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if d.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if d.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if d.PoolMin > d.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// splitList splits a comma-separated string into its trimmed, non-empty parts.
func splitList(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
