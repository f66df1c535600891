package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/database"
)

const configFixture = `
server:
  port: 9090
  mode: debug
  public_base_url: https://goals.example.com

database:
  driver: postgres
  postgres:
    enabled: true
    host: db.example.com
    port: 5433
    database: sataplan
    username: app
    password: secret

auth:
  jwt:
    secret: jwt-secret
    issuer: sataplan-test
    access_token_ttl: 30m
  session:
    refresh_token_ttl: 1440h
    refresh_token_length: 64

qr:
  size: 384
  token_ttl: 48h

cache:
  redis:
    enabled: true
    address: cache.example.com:6380
    password: redis-pass
    db: 2

smtp:
  enabled: true
  host: smtp.example.com
  port: 2525
  username: smtp-user
  password: smtp-pass
  from: no-reply@example.com
  use_tls: true
  timeout: 15s

storage:
  enabled: true
  endpoint: http://minio.local:9000
  bucket: sataplan-covers
  access_key: minio
  secret_key: minio-secret

maintenance:
  enabled: false
  token_retention: 168h

logging:
  level: debug
  format: console

metrics:
  enabled: false

features:
  registration:
    enabled: false
`

func writeConfigFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configFixture), 0o600))
	return dir
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFixture(t))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, "https://goals.example.com", cfg.Server.PublicBaseURL)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "sataplan-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 1440*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 64, cfg.Auth.Session.RefreshLength)

	require.Equal(t, 384, cfg.QR.Size)
	require.Equal(t, 48*time.Hour, cfg.QR.TokenTTL)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "cache.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)

	require.True(t, cfg.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	require.Equal(t, 2525, cfg.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.SMTP.Timeout)

	require.True(t, cfg.Storage.Enabled)
	require.Equal(t, "sataplan-covers", cfg.Storage.Bucket)
	require.True(t, cfg.Storage.UsePathStyle)

	require.False(t, cfg.Maintenance.Enabled)
	require.Equal(t, 168*time.Hour, cfg.Maintenance.TokenRetention)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)

	require.False(t, cfg.Metrics.Enabled)
	require.Equal(t, "/metrics", cfg.Metrics.Endpoint)

	require.False(t, cfg.Features.Registration.Enabled)
	require.True(t, cfg.Features.LiveSearch.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.Equal(t, "http://localhost:8000", cfg.Server.PublicBaseURL)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "sataplan", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 168*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 256, cfg.QR.Size)
	require.Zero(t, cfg.QR.TokenTTL)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.False(t, cfg.Storage.Enabled)
	require.True(t, cfg.Maintenance.Enabled)
	require.True(t, cfg.Metrics.Enabled)
	require.True(t, cfg.Features.Registration.Enabled)
	require.True(t, cfg.Features.LiveSearch.Enabled)
}

func TestDatabaseOpenConfig(t *testing.T) {
	sqliteCfg := DatabaseConfig{}.OpenConfig()
	require.Equal(t, "sqlite", sqliteCfg.Driver)

	pgCfg := DatabaseConfig{
		Driver: "PostgreSQL",
		Postgres: DBAuthConfig{
			Enabled:  true,
			Host:     " db.internal ",
			Port:     5432,
			Database: "sataplan",
			Username: "app",
			Password: "secret",
		},
	}.OpenConfig()
	require.Equal(t, database.Config{
		Driver:   "postgresql",
		Host:     "db.internal",
		Port:     5432,
		Name:     "sataplan",
		User:     "app",
		Password: "secret",
	}, pgCfg)

	// Disabled host block keeps credentials out so a DSN can drive the
	// connection instead.
	dsnCfg := DatabaseConfig{
		Driver:   "mysql",
		DSN:      "app:secret@tcp(mysql.internal:3306)/sataplan",
		MySQL:    DBAuthConfig{Host: "ignored.internal"},
		Postgres: DBAuthConfig{},
	}.OpenConfig()
	require.Equal(t, "mysql", dsnCfg.Driver)
	require.Empty(t, dsnCfg.Host)
	require.Equal(t, "app:secret@tcp(mysql.internal:3306)/sataplan", dsnCfg.DSN)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Session: SessionSettings{
				RefreshTTL:    10 * time.Hour,
				RefreshLength: 32,
			},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, jwtCfg)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	require.Equal(t, auth.SessionConfig{
		RefreshTokenTTL: 10 * time.Hour,
		RefreshLength:   32,
	}, sessionCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)

	sessionCfg := cfg.SessionServiceConfig()
	require.Equal(t, auth.DefaultRefreshTokenTTL, sessionCfg.RefreshTokenTTL)
	require.Equal(t, 48, sessionCfg.RefreshLength)
}

func TestSMTPConfigAdapter(t *testing.T) {
	cfg := SMTPConfig{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "user",
		Password: "pass",
		From:     "no-reply@example.com",
		UseTLS:   true,
		Timeout:  10 * time.Second,
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "user", settings.Username)
	require.Equal(t, "pass", settings.Password)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.True(t, settings.UseTLS)
	require.Equal(t, 10*time.Second, settings.Timeout)
}
