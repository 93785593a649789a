package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application. It is built once in
// main and passed down explicitly.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Registry RegistryConfig `mapstructure:"registry"`
	LinkedIn LinkedInConfig `mapstructure:"linkedin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Env            string   `mapstructure:"env"`
	BaseURL        string   `mapstructure:"base_url"`
	CORSOrigin     string   `mapstructure:"cors_origin"`
	PublicDir      string   `mapstructure:"public_dir"`
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type AdminConfig struct {
	Password      string        `mapstructure:"password"`
	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RegistryConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
	// Outbound requests per second and burst; the public API allows 7/s.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type LinkedInConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Issuer       string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Enabled reports whether both LinkedIn credentials are present.
func (c LinkedInConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// IsProduction reports whether the service runs with production defaults.
func (c ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CallbackURL is the LinkedIn redirect target registered with the provider.
func (c ServerConfig) CallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/linkedin/callback"
}

var envBindings = map[string][]string{
	"server.port":            {"PORT"},
	"server.env":             {"APP_ENV", "NODE_ENV"},
	"server.base_url":        {"BASE_URL"},
	"server.cors_origin":     {"CORS_ORIGIN"},
	"server.public_dir":      {"PUBLIC_DIR"},
	"server.trusted_proxies": {"TRUSTED_PROXIES"},
	"database.url":           {"DATABASE_URL"},
	"admin.password":         {"ADMIN_PASSWORD"},
	"admin.session_secret":   {"SESSION_SECRET"},
	"admin.session_ttl":      {"SESSION_TTL"},
	"admin.sweep_interval":   {"SESSION_SWEEP_INTERVAL"},
	"registry.base_url":      {"REGISTRY_BASE_URL"},
	"registry.timeout":       {"REGISTRY_TIMEOUT"},
	"registry.max_retries":   {"REGISTRY_MAX_RETRIES"},
	"registry.retry_delay":   {"REGISTRY_RETRY_DELAY"},
	"registry.user_agent":    {"REGISTRY_USER_AGENT"},
	"registry.rate_limit":    {"REGISTRY_RATE_LIMIT"},
	"registry.burst":         {"REGISTRY_BURST"},
	"linkedin.client_id":     {"LINKEDIN_CLIENT_ID"},
	"linkedin.client_secret": {"LINKEDIN_CLIENT_SECRET"},
	"linkedin.issuer":        {"LINKEDIN_ISSUER"},
	"logging.level":          {"LOG_LEVEL"},
	"logging.format":         {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.base_url", "http://localhost:3000")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.public_dir", "./public")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.url", "sqlite://reviews.db")

	v.SetDefault("admin.session_ttl", 4*time.Hour)
	v.SetDefault("admin.sweep_interval", 30*time.Minute)

	v.SetDefault("registry.base_url", "https://recherche-entreprises.api.gouv.fr")
	v.SetDefault("registry.timeout", 10*time.Second)
	v.SetDefault("registry.max_retries", 1)
	v.SetDefault("registry.retry_delay", 1500*time.Millisecond)
	v.SetDefault("registry.user_agent", "QReview/1.0")
	v.SetDefault("registry.rate_limit", 7)
	v.SetDefault("registry.burst", 7)

	v.SetDefault("linkedin.issuer", "https://www.linkedin.com/oauth")

	v.SetDefault("logging.format", "console")
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	// A missing .env is normal in production where variables are set directly.
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks required settings and fills derived defaults.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Admin.Password == "" {
		if c.Server.IsProduction() {
			return fmt.Errorf("ADMIN_PASSWORD is required in production")
		}
		c.Admin.Password = "admin"
	}

	if c.Admin.SessionSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		c.Admin.SessionSecret = hex.EncodeToString(buf)
	}

	if c.Admin.SessionTTL <= 0 {
		return fmt.Errorf("invalid session ttl: %s", c.Admin.SessionTTL)
	}

	if c.Admin.SweepInterval <= 0 {
		c.Admin.SweepInterval = 30 * time.Minute
	}

	if c.Registry.MaxRetries < 0 {
		c.Registry.MaxRetries = 0
	}

	if c.Logging.Level == "" {
		if c.Server.IsProduction() {
			c.Logging.Level = "info"
		} else {
			c.Logging.Level = "debug"
		}
	}
	return nil
}
