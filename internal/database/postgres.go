package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{})
}

// buildPostgresDSN assembles a keyword/value DSN. sslmode defaults to
// disable unless the options override it.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	var pairs []string
	add := func(key, value string) {
		pairs = append(pairs, key+"="+value)
	}

	if cfg.Host != "" {
		add("host", cfg.Host)
	} else {
		add("host", "localhost")
	}
	if cfg.Port != 0 {
		add("port", fmt.Sprintf("%d", cfg.Port))
	} else {
		add("port", "5432")
	}
	add("user", cfg.User)
	add("dbname", cfg.Name)
	if cfg.Password != "" {
		add("password", cfg.Password)
	}

	options := map[string]string{"sslmode": "disable"}
	for key, value := range cfg.Options {
		options[key] = value
	}
	for _, key := range sortedKeys(options) {
		add(key, options[key])
	}

	return strings.Join(pairs, " "), nil
}
