package checks

import (
	"context"
	"time"

	"github.com/sataplan/server/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// CleanerObserver exposes the last maintenance sweep for recency checks.
// A zero time means no sweep has completed yet.
type CleanerObserver interface {
	LastRun() (time.Time, error)
}

// Maintenance verifies that the background cleaner ran successfully within
// the expected interval. When maxAge is zero, a six hour window is used.
func Maintenance(cleaner CleanerObserver, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if cleaner == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cleaner not configured",
				Duration: time.Since(start),
			}
		}

		last, err := cleaner.LastRun()
		switch {
		case err != nil:
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "last sweep failed: " + err.Error(),
				Duration: time.Since(start),
			}
		case last.IsZero():
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "pending first run",
				Duration: time.Since(start),
			}
		case time.Since(last) > maxAge:
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "stale: last run " + last.UTC().Format(time.RFC3339),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
