package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PARKING"
	defaultHTTPAddress  = "0.0.0.0:3000"
	defaultDatabasePath = "parking.db"
	defaultLogLevel     = "info"
	defaultDailyRate    = 120.0
	defaultPrintTimeout = 8 * time.Second
	defaultRemoteURL    = "http://localhost:3000"
)

// AppConfig captures runtime configuration for the parking API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	DailyRate    float64
	PrintSecret  string
}

// GateConfig captures runtime configuration for the gate terminal client.
type GateConfig struct {
	RemoteURL    string
	CachePath    string
	LogLevel     string
	PrintSecret  string
	PrintTimeout time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("billing.daily_rate", defaultDailyRate)
	configViper.SetDefault("remote.url", defaultRemoteURL)
	configViper.SetDefault("cache.path", "gate-cache.db")
	configViper.SetDefault("print.timeout", defaultPrintTimeout)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		DailyRate:    configViper.GetFloat64("billing.daily_rate"),
		PrintSecret:  configViper.GetString("print.secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadGate parses gate client configuration from viper.
func LoadGate(configViper *viper.Viper) (GateConfig, error) {
	cfg := GateConfig{
		RemoteURL:    configViper.GetString("remote.url"),
		CachePath:    configViper.GetString("cache.path"),
		LogLevel:     configViper.GetString("log.level"),
		PrintSecret:  configViper.GetString("print.secret"),
		PrintTimeout: configViper.GetDuration("print.timeout"),
	}

	if err := cfg.validate(); err != nil {
		return GateConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.PrintSecret) == "" {
		return fmt.Errorf("print.secret is required")
	}
	if c.DailyRate < 1 {
		return fmt.Errorf("billing.daily_rate must be at least 1")
	}
	return nil
}

func (c GateConfig) validate() error {
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("remote.url is required")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.PrintTimeout <= 0 {
		return fmt.Errorf("print.timeout must be positive")
	}
	return nil
}
