package monitoring

import (
	"context"
	"sync"
	"time"
)

const defaultCacheWindow = 5 * time.Second

// CachedEvaluator memoises probe reports for a short window so frequent
// health polling does not hammer the database or cache. Each refresh also
// publishes the per-component gauges.
type CachedEvaluator struct {
	manager *HealthManager
	window  time.Duration

	mu        sync.Mutex
	liveness  cachedReport
	readiness cachedReport
}

type cachedReport struct {
	report    HealthReport
	refreshed time.Time
}

// NewCachedEvaluator wraps the manager with a result cache. A non-positive
// window falls back to five seconds.
func NewCachedEvaluator(manager *HealthManager, window time.Duration) *CachedEvaluator {
	if window <= 0 {
		window = defaultCacheWindow
	}
	return &CachedEvaluator{manager: manager, window: window}
}

// Liveness returns the cached liveness report, refreshing it when stale.
func (e *CachedEvaluator) Liveness(ctx context.Context) HealthReport {
	return e.cached(ctx, &e.liveness, e.manager.EvaluateLiveness)
}

// Readiness returns the cached readiness report, refreshing it when stale.
func (e *CachedEvaluator) Readiness(ctx context.Context) HealthReport {
	return e.cached(ctx, &e.readiness, e.manager.EvaluateReadiness)
}

func (e *CachedEvaluator) cached(ctx context.Context, slot *cachedReport, evaluate func(context.Context) HealthReport) HealthReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !slot.refreshed.IsZero() && time.Since(slot.refreshed) < e.window {
		return slot.report
	}

	report := evaluate(ctx)
	publishReport(report)
	slot.report = report
	slot.refreshed = time.Now()
	return report
}
