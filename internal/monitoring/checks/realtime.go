package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/sataplan/server/internal/monitoring"
)

// HubObserver exposes the connection count of the live search hub.
type HubObserver interface {
	ClientCount() int
}

// Realtime reports the search hub state and its active connection count.
func Realtime(hub HubObserver) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if hub == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "search hub unavailable",
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  fmt.Sprintf("%d clients connected", hub.ClientCount()),
			Duration: time.Since(start),
		}
	})
}
