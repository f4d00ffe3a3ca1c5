package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_DRIVER", "DB_DSN", "SERVER_PORT", "JWT_SECRET", "JWT_EXPIRY_HOURS",
		"LOG_LEVEL", "APP_ENV", "ALLOW_ADMIN_SIGNUP",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "library.db", cfg.DBDSN)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry())
	assert.False(t, cfg.AllowAdminSignup)
	assert.ErrorIs(t, cfg.RequireJWTSecret(), ErrMissingJWTSecret)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://lib@localhost/lib")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRY_HOURS", "2")
	t.Setenv("ALLOW_ADMIN_SIGNUP", "true")
	t.Setenv("LOG_LEVEL", "verbose")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry())
	assert.True(t, cfg.AllowAdminSignup)
	assert.Equal(t, "info", cfg.LogLevel, "invalid level falls back to info")
	assert.NoError(t, cfg.RequireJWTSecret())

	log := cfg.NewLogger()
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, env := range map[string][2]string{
		"driver":       {"DB_DRIVER", "oracle"},
		"expiry":       {"JWT_EXPIRY_HOURS", "soon"},
		"admin signup": {"ALLOW_ADMIN_SIGNUP", "maybe"},
	} {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(env[0], env[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("postgres without dsn", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "postgres")
		_, err := Load()
		assert.Error(t, err)
	})
}
