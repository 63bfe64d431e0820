package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

// Config holds all configuration for the application: CLI-supplied
// server/database settings plus environment-driven ambient logging
// settings.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Log    LogConfig
}

// ServerConfig holds server-related configuration, supplied on the
// command line per the spec's -p/--port flag.
type ServerConfig struct {
	Port            int `ignored:"true"`
	ShutdownTimeout int `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration, supplied on the command
// line as a single connection string per the spec's
// -d/--database-connection-string flag.
type DBConfig struct {
	ConnectionString string
	MaxRetries       int `envconfig:"DB_MAX_RETRIES" default:"5"`
}

// DSN returns the PostgreSQL connection string to dial.
func (c DBConfig) DSN() string {
	return c.ConnectionString
}

// LogConfig holds logging configuration. Unlike Server/DB, this is an
// ambient concern with no externally-specified flag, so it stays
// environment-driven.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses CLI flags and environment variables into Config, then
// validates them. args excludes the program name (pass os.Args[1:]).
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("voucher-service", pflag.ContinueOnError)
	port := fs.IntP("port", "p", 8080, "HTTP port to listen on")
	dsn := fs.StringP("database-connection-string", "d", "", "database connection string (required)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg.Log); err != nil {
		return nil, fmt.Errorf("load log config: %w", err)
	}
	if err := envconfig.Process("", &cfg.DB); err != nil {
		return nil, fmt.Errorf("load db config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}

	cfg.Server.Port = *port
	cfg.DB.ConnectionString = *dsn

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 1 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be at least 1 second, got %d", c.Server.ShutdownTimeout)
	}
	if c.DB.ConnectionString == "" {
		return fmt.Errorf("--database-connection-string is required")
	}
	if c.DB.MaxRetries < 1 {
		return fmt.Errorf("DB_MAX_RETRIES must be at least 1, got %d", c.DB.MaxRetries)
	}
	return nil
}
