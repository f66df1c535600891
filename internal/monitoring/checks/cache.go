package checks

import (
	"context"
	"time"

	"github.com/sataplan/server/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// RedisPinger represents the minimal interface required to probe a Redis connection.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a readiness probe for the shared cache. Deployments without
// Redis fall back to the database-backed store, which the database probe
// already covers, so the check reports up with a note.
func Cache(client RedisPinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "redis disabled; database store in use",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		if err := client.Ping(probeCtx); err != nil {
			return monitoring.ResultFromError("cache", err, time.Since(start))
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
