package database

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPostgresDSN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		dsn, err := buildPostgresDSN(Config{User: "sataplan", Name: "sataplan"})
		if err != nil {
			t.Fatalf("build dsn: %v", err)
		}
		expected := "host=localhost port=5432 user=sataplan dbname=sataplan sslmode=disable"
		if dsn != expected {
			t.Fatalf("expected %q, got %q", expected, dsn)
		}
	})

	t.Run("explicit settings and options", func(t *testing.T) {
		dsn, err := buildPostgresDSN(Config{
			User:     "user",
			Name:     "db",
			Host:     "db.example.com",
			Port:     6543,
			Password: "pass",
			Options: map[string]string{
				"sslmode":     "require",
				"search_path": "public",
			},
		})
		if err != nil {
			t.Fatalf("build dsn: %v", err)
		}
		for _, part := range []string{
			"host=db.example.com",
			"port=6543",
			"user=user",
			"dbname=db",
			"password=pass",
			"sslmode=require",
			"search_path=public",
		} {
			if !strings.Contains(dsn, part) {
				t.Fatalf("dsn %q missing %q", dsn, part)
			}
		}
	})

	t.Run("dsn override wins", func(t *testing.T) {
		dsn, err := buildPostgresDSN(Config{DSN: "postgres://u:p@h/db"})
		if err != nil {
			t.Fatalf("build dsn: %v", err)
		}
		if dsn != "postgres://u:p@h/db" {
			t.Fatalf("expected override, got %q", dsn)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		if _, err := buildPostgresDSN(Config{}); err == nil {
			t.Fatal("expected error for missing credentials")
		}
	})
}

func TestBuildMySQLDSN(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		dsn, err := buildMySQLDSN(Config{User: "sataplan", Name: "sataplan"})
		if err != nil {
			t.Fatalf("build dsn: %v", err)
		}
		expected := "sataplan@tcp(127.0.0.1:3306)/sataplan?charset=utf8mb4&loc=Local&parseTime=True"
		if dsn != expected {
			t.Fatalf("expected %q, got %q", expected, dsn)
		}
	})

	t.Run("password and custom option", func(t *testing.T) {
		dsn, err := buildMySQLDSN(Config{
			User:     "user",
			Password: "secret",
			Name:     "db",
			Host:     "db.example.com",
			Port:     3307,
			Options:  map[string]string{"tls": "skip-verify"},
		})
		if err != nil {
			t.Fatalf("build dsn: %v", err)
		}
		if !strings.HasPrefix(dsn, "user:secret@tcp(db.example.com:3307)/db?") {
			t.Fatalf("unexpected dsn prefix: %q", dsn)
		}
		for _, part := range []string{"charset=utf8mb4", "loc=Local", "parseTime=True", "tls=skip-verify"} {
			if !strings.Contains(dsn, part) {
				t.Fatalf("dsn %q missing %q", dsn, part)
			}
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		if _, err := buildMySQLDSN(Config{Host: "localhost"}); err == nil {
			t.Fatal("expected error for missing credentials")
		}
	})
}

func TestSQLiteDSN(t *testing.T) {
	t.Run("memory aliases", func(t *testing.T) {
		for _, path := range []string{"", "  ", ":memory:", ":MEMORY:"} {
			dsn, err := sqliteDSN(Config{Path: path})
			if err != nil {
				t.Fatalf("sqlite dsn for %q: %v", path, err)
			}
			if dsn != "file::memory:?cache=shared&_foreign_keys=1" {
				t.Fatalf("unexpected memory dsn for %q: %q", path, dsn)
			}
		}
	})

	t.Run("file path enables WAL", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "data.sqlite")
		dsn, err := sqliteDSN(Config{Path: path})
		if err != nil {
			t.Fatalf("sqlite dsn: %v", err)
		}
		if !strings.Contains(dsn, "_journal_mode=WAL") || !strings.Contains(dsn, "_foreign_keys=1") {
			t.Fatalf("unexpected file dsn: %q", dsn)
		}
	})

	t.Run("dsn override wins", func(t *testing.T) {
		dsn, err := sqliteDSN(Config{DSN: "file:custom.db"})
		if err != nil {
			t.Fatalf("sqlite dsn: %v", err)
		}
		if dsn != "file:custom.db" {
			t.Fatalf("expected override, got %q", dsn)
		}
	})
}
