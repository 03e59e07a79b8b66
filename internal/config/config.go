package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "STOREFRONT"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultStorageDriver     = StorageDriverSQLite
	defaultDatabasePath      = "storefront.db"
	defaultRedisAddress      = "127.0.0.1:6379"
	defaultRedisKeyPrefix    = "storefront:"
	defaultLogLevel          = "info"
	defaultSessionIssuer     = "storefront-auth"
	defaultTokenTTLMinutes   = 60
	defaultMinLoadingDelayMs = 300
	defaultSignInPath        = "/login"
)

// Supported durable storage drivers.
const (
	StorageDriverSQLite = "sqlite"
	StorageDriverRedis  = "redis"
	StorageDriverMemory = "memory"
)

// AppConfig captures runtime configuration for the storefront sync service.
type AppConfig struct {
	HTTPAddress          string
	StorageDriver        string
	DatabasePath         string
	RedisAddress         string
	RedisPassword        string
	RedisDB              int
	RedisKeyPrefix       string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionTokenTTL      time.Duration
	MinLoadingDelay      time.Duration
	SignInPath           string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.key_prefix", defaultRedisKeyPrefix)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("session.min_loading_delay_ms", defaultMinLoadingDelayMs)
	configViper.SetDefault("routes.sign_in_path", defaultSignInPath)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		StorageDriver:        strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		RedisAddress:         configViper.GetString("redis.address"),
		RedisPassword:        configViper.GetString("redis.password"),
		RedisDB:              configViper.GetInt("redis.db"),
		RedisKeyPrefix:       configViper.GetString("redis.key_prefix"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTokenTTL:      time.Duration(configViper.GetInt("session.token_ttl_minutes")) * time.Minute,
		MinLoadingDelay:      time.Duration(configViper.GetInt("session.min_loading_delay_ms")) * time.Millisecond,
		SignInPath:           configViper.GetString("routes.sign_in_path"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	switch c.StorageDriver {
	case StorageDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	if c.MinLoadingDelay < 0 {
		return fmt.Errorf("session.min_loading_delay_ms must not be negative")
	}
	if !strings.HasPrefix(c.SignInPath, "/") {
		return fmt.Errorf("routes.sign_in_path must be an absolute path")
	}
	return nil
}
