package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	KMS          KMSConfig          `mapstructure:"kms"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// KMSConfig selects where the wallet encryption key comes from.
// The key is never generated locally.
type KMSConfig struct {
	Provider string `mapstructure:"provider"` // file, static
	KeyFile  string `mapstructure:"key_file"` // path to a hex key mounted by the secret manager
	Key      string `mapstructure:"key"`      // hex key injected by the secret manager (static provider)
}

type LedgerConfig struct {
	BaseAsset     string `mapstructure:"base_asset"`
	MaxTxAttempts int    `mapstructure:"max_tx_attempts"`
}

type ConfirmationConfig struct {
	MinConfirmations int `mapstructure:"min_confirmations"`
}

// FeedConfig holds the credentials of the on-chain confirmation feed.
type FeedConfig struct {
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CWL_ (Custodial Wallet Ledger).
// Nested keys use underscore: CWL_DATABASE_HOST, CWL_KMS_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "custody_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "custody-ledger")
	v.SetDefault("kms.provider", "file")
	v.SetDefault("kms.key_file", "/run/secrets/wallet_encryption_key")
	v.SetDefault("kms.key", "")
	v.SetDefault("ledger.base_asset", "SOL")
	v.SetDefault("ledger.max_tx_attempts", 3)
	v.SetDefault("confirmation.min_confirmations", 1)
	v.SetDefault("feed.client_id", "chain-watcher")
	v.SetDefault("feed.secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CWL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the ledger cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.KMS.Provider {
	case "file", "static":
	default:
		return fmt.Errorf("unsupported kms provider %q", c.KMS.Provider)
	}
	if c.Ledger.BaseAsset == "" {
		return fmt.Errorf("ledger.base_asset must be set")
	}
	if c.Ledger.MaxTxAttempts < 1 {
		return fmt.Errorf("ledger.max_tx_attempts must be at least 1, got %d", c.Ledger.MaxTxAttempts)
	}
	if c.Confirmation.MinConfirmations < 1 {
		return fmt.Errorf("confirmation.min_confirmations must be at least 1, got %d", c.Confirmation.MinConfirmations)
	}
	return nil
}
