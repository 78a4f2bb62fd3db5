package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "SOUNDMINT"

// ServerConfig holds HTTP and gRPC listener configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// Addr returns the HTTP listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration. An empty host disables Postgres.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"` // apply pending migrations at start
}

// Enabled reports whether a database is configured
func (c DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// DSN returns the database connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	DevTokens bool          `mapstructure:"dev_tokens"` // enables POST /v1/auth/token
}

// PlatformConfig holds the artist factory configuration
type PlatformConfig struct {
	FactoryAddress string `mapstructure:"factory_address"`
	Owner          string `mapstructure:"owner"`
	FeeBps         uint32 `mapstructure:"fee_bps"`
}

// TreasuryConfig holds the treasury configuration. Amounts are in gwei.
type TreasuryConfig struct {
	Address             string        `mapstructure:"address"`
	Admin               string        `mapstructure:"admin"`
	Treasurer           string        `mapstructure:"treasurer"`
	CEO                 string        `mapstructure:"ceo"`
	MaxWithdrawalAmount int64         `mapstructure:"max_withdrawal_amount"`
	WeeklyLimit         int64         `mapstructure:"weekly_limit"`
	Window              time.Duration `mapstructure:"window"`
}

// MintConfig holds mint settings
type MintConfig struct {
	MaxBatchSize int    `mapstructure:"max_batch_size"`
	Currency     string `mapstructure:"currency"`
}

// NATSConfig holds NATS JetStream configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName string        `mapstructure:"connection_name"`
}

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	Burst     int `mapstructure:"burst"`
	PerSecond int `mapstructure:"per_second"`
}

// SnapshotConfig controls engine state persistence. Every state change writes
// a snapshot; Interval and Keep bound the retained history.
type SnapshotConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Keep     int           `mapstructure:"keep"`
}

// Config holds configuration for the API server
type Config struct {
	Debug     bool            `mapstructure:"debug"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Treasury  TreasuryConfig  `mapstructure:"treasury"`
	Mint      MintConfig      `mapstructure:"mint"`
	NATS      NATSConfig      `mapstructure:"nats"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
}

// Load loads configuration from an optional YAML file, .env files under
// envPath and SOUNDMINT_* environment variables, in increasing precedence.
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Platform.FeeBps > 10_000:
		return fmt.Errorf("platform.fee_bps %d exceeds 10000", c.Platform.FeeBps)
	case c.Mint.MaxBatchSize <= 0:
		return errors.New("mint.max_batch_size must be positive")
	case c.Treasury.MaxWithdrawalAmount <= 0 || c.Treasury.WeeklyLimit <= 0:
		return errors.New("treasury limits must be positive")
	case c.Snapshot.Enabled && c.Snapshot.Interval <= 0:
		return errors.New("snapshot.interval must be positive")
	case c.Snapshot.Enabled && c.Snapshot.Keep < 1:
		return errors.New("snapshot.keep must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("auth.issuer", "soundmint")
	v.SetDefault("auth.token_ttl", "15m")
	v.SetDefault("auth.dev_tokens", false)
	v.SetDefault("platform.factory_address", "0x00000000000000000000000000000000000f4c70")
	v.SetDefault("platform.fee_bps", 250)
	v.SetDefault("treasury.max_withdrawal_amount", 10_000_000_000)
	v.SetDefault("treasury.weekly_limit", 50_000_000_000)
	v.SetDefault("treasury.window", "168h")
	v.SetDefault("mint.max_batch_size", 20)
	v.SetDefault("mint.currency", "ETH")
	v.SetDefault("nats.subject_prefix", "soundmint.events")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connection_name", "soundmint-api")
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.per_second", 10)
	v.SetDefault("snapshot.enabled", true)
	v.SetDefault("snapshot.interval", "10m")
	v.SetDefault("snapshot.keep", 100)
}

func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("cmd/api/")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars binds every key so env vars apply even without a config file.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"server.host", "server.port", "server.grpc_addr",
		"server.read_timeout", "server.write_timeout", "server.idle_timeout",
		"server.shutdown_timeout", "server.max_body_bytes",
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode", "database.max_open_conns",
		"database.max_idle_conns", "database.conn_max_lifetime", "database.auto_migrate",
		"auth.secret", "auth.issuer", "auth.token_ttl", "auth.dev_tokens",
		"platform.factory_address", "platform.owner", "platform.fee_bps",
		"treasury.address", "treasury.admin", "treasury.treasurer", "treasury.ceo",
		"treasury.max_withdrawal_amount", "treasury.weekly_limit", "treasury.window",
		"mint.max_batch_size", "mint.currency",
		"nats.url", "nats.subject_prefix", "nats.max_reconnects",
		"nats.reconnect_wait", "nats.connection_name",
		"rate_limit.burst", "rate_limit.per_second",
		"snapshot.enabled", "snapshot.interval", "snapshot.keep",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "config/"
	}
	for _, envFile := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, envFile)) // later files win
	}
}
