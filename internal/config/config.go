package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "JSMYADMIN"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultMySQLHost       = "127.0.0.1"
	defaultMySQLPort       = 3306
	defaultStatePath       = "jsmyadmin-state.db"
	defaultLogLevel        = "info"
	defaultSessionTTLMin   = 30
	defaultCacheTTLMinutes = 5
)

// AppConfig captures runtime configuration for the console API server.
type AppConfig struct {
	HTTPAddress    string
	MySQLHost      string
	MySQLPort      int
	StatePath      string
	SigningSecret  string
	SessionTTL     time.Duration
	CacheTTL       time.Duration
	LogLevel       string
	AllowedOrigins []string
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
	configViper.SetDefault("mysql.host", defaultMySQLHost)
	configViper.SetDefault("mysql.port", defaultMySQLPort)
	configViper.SetDefault("state.path", defaultStatePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMin)
	configViper.SetDefault("cache.ttl_minutes", defaultCacheTTLMinutes)
	configViper.SetDefault("cors.origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		MySQLHost:      configViper.GetString("mysql.host"),
		MySQLPort:      configViper.GetInt("mysql.port"),
		StatePath:      configViper.GetString("state.path"),
		SigningSecret:  configViper.GetString("session.signing_secret"),
		SessionTTL:     time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		CacheTTL:       time.Duration(configViper.GetInt("cache.ttl_minutes")) * time.Minute,
		LogLevel:       configViper.GetString("log.level"),
		AllowedOrigins: configViper.GetStringSlice("cors.origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.MySQLHost) == "" {
		return fmt.Errorf("mysql.host is required")
	}
	if c.MySQLPort <= 0 || c.MySQLPort > 65535 {
		return fmt.Errorf("mysql.port must be a valid port number")
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be positive")
	}
	return nil
}
