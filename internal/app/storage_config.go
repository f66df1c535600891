package app

import (
	"strings"

	"github.com/sataplan/server/internal/storage"
)

// PresignerConfig converts the application storage configuration into the
// storage package representation.
func (c StorageConfig) PresignerConfig() storage.Config {
	return storage.Config{
		Enabled:      c.Enabled,
		Region:       strings.TrimSpace(c.Region),
		Endpoint:     strings.TrimSpace(c.Endpoint),
		Bucket:       strings.TrimSpace(c.Bucket),
		AccessKey:    c.AccessKey,
		SecretKey:    c.SecretKey,
		UsePathStyle: c.UsePathStyle,
	}
}
