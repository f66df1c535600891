package app

import (
	"strings"

	"github.com/sataplan/server/internal/database"
)

// OpenConfig converts the database section into database.Open parameters.
// The driver defaults to sqlite; host credentials come from whichever
// host-based block is enabled. Driver aliases (postgresql, mariadb) are
// resolved by database.Open itself.
func (c DatabaseConfig) OpenConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}

	switch cfg.Driver {
	case "postgres", "postgresql":
		if c.Postgres.Enabled {
			cfg.Host = strings.TrimSpace(c.Postgres.Host)
			cfg.Port = c.Postgres.Port
			cfg.Name = strings.TrimSpace(c.Postgres.Database)
			cfg.User = strings.TrimSpace(c.Postgres.Username)
			cfg.Password = c.Postgres.Password
		}
	case "mysql", "mariadb":
		if c.MySQL.Enabled {
			cfg.Host = strings.TrimSpace(c.MySQL.Host)
			cfg.Port = c.MySQL.Port
			cfg.Name = strings.TrimSpace(c.MySQL.Database)
			cfg.User = strings.TrimSpace(c.MySQL.Username)
			cfg.Password = c.MySQL.Password
		}
	}

	return cfg
}
