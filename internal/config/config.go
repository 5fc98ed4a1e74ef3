package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provisioning policies
const (
	ProvisioningAuto   = "auto"
	ProvisioningManual = "manual"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the service
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Keycloak     KeycloakConfig     `mapstructure:"keycloak"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Store        StoreConfig        `mapstructure:"store"`
	Batch        BatchConfig        `mapstructure:"batch"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
	Decoders     DecodersConfig     `mapstructure:"decoders"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Locks        LocksConfig        `mapstructure:"locks"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type KeycloakConfig struct {
	URL          string `mapstructure:"url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Enabled reports whether a redis server is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type MonitoringConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	AdminIndex string `mapstructure:"admin_index"`
}

type BatchConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	MaxDocuments int           `mapstructure:"max_documents"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

type ProvisioningConfig struct {
	Policy string `mapstructure:"policy"`
}

type DecodersConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type LocksConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Load initializes configuration from environment variables and an optional
// config file. An empty path searches ./config/config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEVICEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Load config file if exists
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv picks them up during Unmarshal
	for _, key := range []string{
		"database.postgres.host", "database.postgres.user", "database.postgres.password", "database.postgres.dbname",
		"redis.host", "redis.password",
		"keycloak.url", "keycloak.realm", "keycloak.client_id", "keycloak.client_secret",
	} {
		v.SetDefault(key, "")
	}

	// Database defaults
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)

	// Redis defaults
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "1m")

	// Monitoring defaults
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Store defaults
	v.SetDefault("store.driver", StoreDriverPostgres)
	v.SetDefault("store.admin_index", "device-manager")

	// Batch defaults
	v.SetDefault("batch.interval", "20ms")
	v.SetDefault("batch.max_documents", 1000)
	v.SetDefault("batch.flush_timeout", "30s")

	v.SetDefault("provisioning.policy", ProvisioningAuto)
	v.SetDefault("decoders.enabled", []string{"DummyTemp", "DummyTempPosition"})

	v.SetDefault("reconcile.interval", "5s")
	v.SetDefault("reconcile.max_attempts", 10)

	v.SetDefault("locks.ttl", "10s")
	v.SetDefault("locks.retry_interval", "25ms")
}

func validateConfig(config *Config) error {
	switch config.Store.Driver {
	case StoreDriverPostgres:
		if config.Database.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}
	if config.Store.AdminIndex == "" {
		return fmt.Errorf("store admin index is required")
	}
	switch config.Provisioning.Policy {
	case ProvisioningAuto, ProvisioningManual:
	default:
		return fmt.Errorf("unknown provisioning policy %q", config.Provisioning.Policy)
	}
	if config.Batch.Interval <= 0 {
		return fmt.Errorf("batch interval must be positive")
	}
	if config.Batch.MaxDocuments <= 0 {
		return fmt.Errorf("batch max_documents must be positive")
	}
	return nil
}
