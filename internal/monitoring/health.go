package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProbeStatus is the outcome of a single dependency probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDown     ProbeStatus = "down"
	StatusDegraded ProbeStatus = "degraded"
)

// severity orders statuses so reports can keep the worst one seen.
// Down outranks degraded outranks up.
func severity(s ProbeStatus) int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	}
	return 0
}

func worse(a, b ProbeStatus) ProbeStatus {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// ProbeResult is one component's probe outcome.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport aggregates probe results; Success is false whenever any
// component is not up.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

// Check pairs a component name with its probe function.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck builds a Check. A nil probe reports down so a misregistered
// component is visible instead of silently green.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Component: name, Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// HealthManager holds the registered liveness and readiness probes.
type HealthManager struct {
	liveness  []Check
	readiness []Check
}

func NewHealthManager() *HealthManager {
	return &HealthManager{}
}

// RegisterLiveness adds a probe answered by /api/health.
func (m *HealthManager) RegisterLiveness(check Check) {
	if check.Name != "" {
		m.liveness = append(m.liveness, check)
	}
}

// RegisterReadiness adds a probe answered by /api/health/ready.
func (m *HealthManager) RegisterReadiness(check Check) {
	if check.Name != "" {
		m.readiness = append(m.readiness, check)
	}
}

// EvaluateLiveness runs every liveness probe.
func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return runAll(ctx, m.liveness)
}

// EvaluateReadiness runs every readiness probe.
func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return runAll(ctx, m.readiness)
}

func runAll(ctx context.Context, checks []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}

	report := HealthReport{
		Success: true,
		Status:  StatusUp,
		Checks:  make([]ProbeResult, 0, len(checks)),
	}
	for _, check := range checks {
		result := execute(ctx, check)
		report.Checks = append(report.Checks, result)
		report.Status = worse(report.Status, result.Status)
	}
	report.Success = report.Status == StatusUp
	return report
}

// execute runs one probe, stamping the component name and duration and
// translating a panic into a down result.
func execute(ctx context.Context, check Check) (result ProbeResult) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			result = ProbeResult{
				Component: check.Name,
				Status:    StatusDown,
				Details:   fmt.Sprintf("probe panic: %v", rec),
				Duration:  time.Since(start),
			}
		}
	}()

	result = check.Run(ctx)
	result.Component = check.Name
	if result.Status == "" {
		result.Status = StatusDown
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	return result
}

// MergeReports folds liveness and readiness into the overview payload.
func MergeReports(live, ready HealthReport) HealthReport {
	merged := HealthReport{
		Status: StatusUp,
		Checks: make([]ProbeResult, 0, len(live.Checks)+len(ready.Checks)),
	}
	merged.Checks = append(merged.Checks, live.Checks...)
	merged.Checks = append(merged.Checks, ready.Checks...)

	for _, r := range merged.Checks {
		merged.Status = worse(merged.Status, r.Status)
	}
	merged.Success = merged.Status == StatusUp
	return merged
}

// ResultFromError maps a probe error to a result. Timeouts and cancellations
// count as degraded rather than down: the dependency may be healthy but slow.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	if duration < 0 {
		duration = 0
	}

	result := ProbeResult{Component: component, Status: StatusUp, Duration: duration}
	if err == nil {
		return result
	}

	result.Status = StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		result.Status = StatusDegraded
	}
	result.Details = err.Error()
	return result
}
