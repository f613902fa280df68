package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentProduction switches cookies to Secure + SameSite=None.
const EnvironmentProduction = "production"

// Config is the root configuration structure for LinkPulse.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Google    GoogleConfig    `yaml:"google"`
	Payments  PaymentsConfig  `yaml:"payments"`
	Geo       GeoConfig       `yaml:"geo"`
	Mail      MailConfig      `yaml:"mail"`
}

// AppConfig contains deployment-wide settings.
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	BaseURL     string `yaml:"base_url"`
}

// IsProduction reports whether the deployment runs in production mode.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Environment, EnvironmentProduction)
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PostgresConfig selects the Postgres credential store instead of SQLite.
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// RedisConfig contains the Redis connection used for rate limiting.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// TrustedProxies lists the IPs or CIDR ranges whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer address is used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// Credentials are allowed because sessions live in cookies, so only origins
// listed exactly are reflected. An empty list disables cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains live click feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token, rate limit and bootstrap settings.
type SecurityConfig struct {
	JWT            JWTConfig            `yaml:"jwt"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin"`
}

// JWTConfig contains JWT token settings. TTLs are in minutes.
type JWTConfig struct {
	AccessSecret    string `yaml:"access_secret"`
	RefreshSecret   string `yaml:"refresh_secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// AccessTTL returns the access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshTokenTTL) * time.Minute
}

// RateLimitConfig contains login and password-reset throttling settings.
type RateLimitConfig struct {
	MaxLoginAttempts     int  `yaml:"max_login_attempts"`
	LoginCooldownMinutes int  `yaml:"login_cooldown_minutes"`
	MaxResetRequests     int  `yaml:"max_reset_requests"`
	ResetWindowMinutes   int  `yaml:"reset_window_minutes"`
	ThrottleByIP         bool `yaml:"throttle_by_ip"`
}

// BootstrapAdminConfig seeds the first admin account on an empty database.
type BootstrapAdminConfig struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// GoogleConfig contains Google sign-in settings.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	JWKSURL      string `yaml:"jwks_url"`
}

// PaymentsConfig contains payment verification settings.
type PaymentsConfig struct {
	KeySecret     string       `yaml:"key_secret"`
	WebhookSecret string       `yaml:"webhook_secret"`
	Currency      string       `yaml:"currency"`
	CreditPacks   map[int]int  `yaml:"credit_packs"` // credits -> price in major units
	Plans         []PlanConfig `yaml:"plans"`
}

// PlanConfig describes a subscription plan offered to users.
type PlanConfig struct {
	Key                string `yaml:"key"`
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	TotalBillingCycles int    `yaml:"total_billing_cycles"`
}

// GeoConfig contains click geo-location settings.
type GeoConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
	DevIP   string `yaml:"dev_ip"`
}

// MailConfig contains reset-code e-mail settings.
type MailConfig struct {
	From string `yaml:"from"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LINKPULSE_SECTION_KEY
// For example: LINKPULSE_DATABASE_PATH, LINKPULSE_JWT_ACCESS_SECRET
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "LinkPulse",
			Environment: "development",
			BaseURL:     "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Path:        "./data/linkpulse.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "linkpulse",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  60,
				RefreshTokenTTL: 7 * 24 * 60,
			},
			RateLimit: RateLimitConfig{
				MaxLoginAttempts:     5,
				LoginCooldownMinutes: 15,
				MaxResetRequests:     3,
				ResetWindowMinutes:   10,
				ThrottleByIP:         true,
			},
		},
		Google: GoogleConfig{
			JWKSURL: "https://www.googleapis.com/oauth2/v3/certs",
		},
		Payments: PaymentsConfig{
			Currency: "INR",
			CreditPacks: map[int]int{
				10:  10,
				20:  20,
				50:  50,
				100: 100,
			},
		},
		Geo: GeoConfig{
			Enabled: true,
			BaseURL: "http://ip-api.com/json/",
			Timeout: 3,
			DevIP:   "8.8.8.8",
		},
		Mail: MailConfig{
			From: "no-reply@linkpulse.local",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way in production.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKPULSE_ENVIRONMENT"); v != "" {
		cfg.App.Environment = v
	}

	// Database
	if v := os.Getenv("LINKPULSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LINKPULSE_POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}

	// Redis
	if v := os.Getenv("LINKPULSE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LINKPULSE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// MQTT
	if v := os.Getenv("LINKPULSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LINKPULSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LINKPULSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LINKPULSE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("LINKPULSE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("LINKPULSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("LINKPULSE_JWT_ACCESS_SECRET"); v != "" {
		cfg.Security.JWT.AccessSecret = v
	}
	if v := os.Getenv("LINKPULSE_JWT_REFRESH_SECRET"); v != "" {
		cfg.Security.JWT.RefreshSecret = v
	}
	if v := os.Getenv("LINKPULSE_ADMIN_PASSWORD"); v != "" {
		cfg.Security.BootstrapAdmin.Password = v
	}

	// Google
	if v := os.Getenv("LINKPULSE_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("LINKPULSE_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}

	// Payments
	if v := os.Getenv("LINKPULSE_PAYMENTS_KEY_SECRET"); v != "" {
		cfg.Payments.KeySecret = v
	}
	if v := os.Getenv("LINKPULSE_PAYMENTS_WEBHOOK_SECRET"); v != "" {
		cfg.Payments.WebhookSecret = v
	}
}

// minSecretLength is the minimum accepted length for each JWT secret.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Postgres.Enabled && c.Postgres.URL == "" {
		errs = append(errs, "postgres.url is required when postgres is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	for _, origin := range c.API.CORS.AllowedOrigins {
		if origin == "*" {
			errs = append(errs, "api.cors.allowed_origins must list origins explicitly; \"*\" is not allowed with credentials")
			break
		}
	}
	if c.App.IsProduction() && len(c.API.CORS.AllowedOrigins) == 0 {
		errs = append(errs, "api.cors.allowed_origins is required in production")
	}
	if _, err := ParseTrustedProxies(c.API.TrustedProxies); err != nil {
		errs = append(errs, err.Error())
	}

	// Distinct secrets keep a leaked access secret from minting refresh tokens.
	jwtCfg := c.Security.JWT
	switch {
	case jwtCfg.AccessSecret == "":
		errs = append(errs, "security.jwt.access_secret is required (set LINKPULSE_JWT_ACCESS_SECRET)")
	case len(jwtCfg.AccessSecret) < minSecretLength:
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}
	switch {
	case jwtCfg.RefreshSecret == "":
		errs = append(errs, "security.jwt.refresh_secret is required (set LINKPULSE_JWT_REFRESH_SECRET)")
	case len(jwtCfg.RefreshSecret) < minSecretLength:
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}
	if jwtCfg.AccessSecret != "" && jwtCfg.AccessSecret == jwtCfg.RefreshSecret {
		errs = append(errs, "security.jwt.access_secret and refresh_secret must differ")
	}
	if jwtCfg.AccessTokenTTL <= 0 || jwtCfg.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt token TTLs must be positive")
	}

	for credits, price := range c.Payments.CreditPacks {
		if credits <= 0 || price <= 0 {
			errs = append(errs, fmt.Sprintf("payments.credit_packs entry %d must have positive credits and price", credits))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ParseTrustedProxies converts api.trusted_proxies entries into prefixes.
// A bare address is treated as a single-host range.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("api.trusted_proxies entry %q is not a valid CIDR", entry)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("api.trusted_proxies entry %q is not a valid IP", entry)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
