package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"library-catalog/library"
)

// Config holds settings read from the environment (and an optional .env file).
type Config struct {
	DBDriver         string
	DBDSN            string
	ServerPort       string
	JWTSecret        string
	JWTExpiryHours   int
	LogLevel         string
	AppEnv           string
	AllowAdminSignup bool
}

// ErrMissingJWTSecret is returned by RequireJWTSecret when JWT_SECRET is unset.
var ErrMissingJWTSecret = errors.New("environment variable JWT_SECRET must be set")

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:       os.Getenv("DB_DRIVER"),
		DBDSN:          os.Getenv("DB_DSN"),
		ServerPort:     os.Getenv("SERVER_PORT"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		AppEnv:         os.Getenv("APP_ENV"),
		JWTExpiryHours: 24,
	}

	if cfg.DBDriver == "" {
		cfg.DBDriver = library.DriverSQLite
	}
	if cfg.DBDriver != library.DriverSQLite && cfg.DBDriver != library.DriverPostgres {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		if cfg.DBDriver == library.DriverPostgres {
			return nil, fmt.Errorf("environment variable DB_DSN must be set for %s", cfg.DBDriver)
		}
		cfg.DBDSN = "library.db"
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}

	if v := os.Getenv("JWT_EXPIRY_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid JWT_EXPIRY_HOURS %q", v)
		}
		cfg.JWTExpiryHours = hours
	}
	if v := os.Getenv("ALLOW_ADMIN_SIGNUP"); v != "" {
		allow, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOW_ADMIN_SIGNUP %q", v)
		}
		cfg.AllowAdminSignup = allow
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// RequireJWTSecret fails when the server cannot sign tokens.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// JWTExpiry is the lifetime of issued tokens.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryHours) * time.Hour
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// NewLogger builds the process logger: JSON in production, text otherwise.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if c.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	return log
}
