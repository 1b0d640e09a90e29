// Package config loads the server configuration.
// Precedence: Default() < YAML file < environment < command line flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/text2mesh/internal/server/jwt"
)

// Config represents the complete server configuration
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Auth      AuthConfig      `yaml:"auth"`
	Mail      MailConfig      `yaml:"mail"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
}

// HTTPConfig configures the listener
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists allowed origins, "*" allows any
	CORSOrigins []string `yaml:"cors_origins"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	// Empty means client addresses come from the socket only.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// DatabaseConfig selects the storage backend
type DatabaseConfig struct {
	// Driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`
	// DSN is a file path (or ":memory:") for sqlite, a connection URL for postgres
	DSN string `yaml:"dsn"`
}

// JWTConfig configures token signing
type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	AccessTTL time.Duration `yaml:"access_ttl"`
	// RefreshTTL uses the "<int><d|h|m|s>" form, e.g. "7d"
	RefreshTTL string `yaml:"refresh_ttl"`
}

// AuthConfig configures the registration and reset flows
type AuthConfig struct {
	VerificationTTL time.Duration `yaml:"verification_ttl"`
	ResetTTL        time.Duration `yaml:"reset_ttl"`
	PasswordCost    int           `yaml:"password_cost"`
}

// MailConfig configures outgoing mail. An empty SMTPHost selects the log mailer.
type MailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	From         string `yaml:"from"`
	// TLS: mandatory, opportunistic or none
	TLS         string `yaml:"tls"`
	FrontendURL string `yaml:"frontend_url"`
}

// RateLimitConfig selects the limiter backend
type RateLimitConfig struct {
	// Backend: "memory" or "redis"
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
}

// AuditConfig configures audit event publishing. Empty NATSURL logs events instead.
type AuditConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig configures slog
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SweeperConfig configures the expired record sweeper. Zero disables it.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with development defaults
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "text2mesh.db",
		},
		JWT: JWTConfig{
			AccessTTL:  jwt.DefaultAccessTTL,
			RefreshTTL: "7d",
		},
		Auth: AuthConfig{
			VerificationTTL: 15 * time.Minute,
			ResetTTL:        time.Hour,
		},
		Mail: MailConfig{
			SMTPPort:    587,
			From:        "no-reply@text2mesh.local",
			TLS:         "opportunistic",
			FrontendURL: "http://localhost:3000",
		},
		RateLimit: RateLimitConfig{
			Backend: "memory",
		},
		Audit: AuditConfig{
			Subject: "text2mesh.audit",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sweeper: SweeperConfig{
			Interval: 10 * time.Minute,
		},
	}
}

// LoadFile reads path over the defaults
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LookupFunc has the signature of os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment.
// Unparsable numeric or duration values are reported, not ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := get(k); ok {
				*dst = v
				return
			}
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(dst *int, key string) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	if port, ok := get("PORT"); ok {
		c.HTTP.Addr = ":" + port
	}
	str(&c.HTTP.Addr, "TEXT2MESH_HTTP_ADDR")
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.HTTP.CORSOrigins = splitCSV(v)
	}
	if v, ok := get("TEXT2MESH_TRUSTED_PROXIES"); ok {
		c.HTTP.TrustedProxies = splitCSV(v)
	}

	str(&c.Database.Driver, "TEXT2MESH_DB_DRIVER")
	str(&c.Database.DSN, "DATABASE_URL", "TEXT2MESH_DB_DSN")

	str(&c.JWT.Secret, "JWT_SECRET")
	dur(&c.JWT.AccessTTL, "JWT_EXPIRES_IN")
	str(&c.JWT.RefreshTTL, "REFRESH_TOKEN_EXPIRES_IN")

	dur(&c.Auth.VerificationTTL, "TEXT2MESH_VERIFICATION_TTL")
	dur(&c.Auth.ResetTTL, "TEXT2MESH_RESET_TTL")

	str(&c.Mail.SMTPHost, "SMTP_HOST")
	num(&c.Mail.SMTPPort, "SMTP_PORT")
	str(&c.Mail.SMTPUser, "EMAIL_USER")
	str(&c.Mail.SMTPPassword, "EMAIL_PASS")
	str(&c.Mail.From, "EMAIL_FROM")
	str(&c.Mail.FrontendURL, "FRONTEND_URL")

	str(&c.RateLimit.Backend, "TEXT2MESH_RATELIMIT_BACKEND")
	str(&c.RateLimit.RedisAddr, "REDIS_ADDR")

	str(&c.Audit.NATSURL, "NATS_URL")

	str(&c.Log.Level, "LOG_LEVEL")
	str(&c.Log.Format, "TEXT2MESH_LOG_FORMAT")

	return errors.Join(errs...)
}

// Validate checks that the configuration is usable.
// Warnings describe settings that work but were probably not intended.
func (c *Config) Validate() (warnings []string, err error) {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, jwt.ErrMissingSigningKey)
	}
	if _, ok := jwt.RefreshDuration(c.JWT.RefreshTTL); !ok {
		warnings = append(warnings, fmt.Sprintf(
			"jwt.refresh_ttl %q is not <int><d|h|m|s>, falling back to %s", c.JWT.RefreshTTL, jwt.DefaultRefreshTTL))
	}

	for _, proxy := range c.HTTP.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("http.trusted_proxies: %q is not an IP or CIDR", proxy))
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("ratelimit.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Mail.SMTPHost == "" {
		warnings = append(warnings, "mail.smtp_host is empty, emails will only be logged")
	}
	if c.Mail.FrontendURL == "" {
		errs = append(errs, errors.New("mail.frontend_url is required for password reset links"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
	}

	return warnings, errors.Join(errs...)
}

func validProxy(value string) bool {
	if strings.Contains(value, "/") {
		_, err := netip.ParsePrefix(value)
		return err == nil
	}
	_, err := netip.ParseAddr(value)
	return err == nil
}

func splitCSV(value string) []string {
	parts := []string{}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
