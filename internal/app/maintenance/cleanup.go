package maintenance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/database"
	"github.com/sataplan/server/internal/services"
	"github.com/sataplan/server/pkg/logger"
)

const (
	defaultTokenRetention     = 30 * 24 * time.Hour
	defaultAuditRetentionDays = 90
	defaultTokenSpec          = "@hourly"
	defaultDailySpec          = "@daily"
)

// Cleaner coordinates background maintenance tasks: pruning access tokens that
// can never grant access again, expired or revoked sessions, spent password
// reset tokens, and old audit rows.
type Cleaner struct {
	db       *gorm.DB
	tokens   *services.AccessTokenService
	sessions *iauth.SessionService
	resets   *services.PasswordResetService
	audit    *services.AuditService
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	enabled  bool

	tokenRetention time.Duration
	auditRetention int

	tokenSchedule string
	dailySchedule string

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for sweep bookkeeping.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenRetention pins the retention window for consumed access tokens,
// bypassing the system-settings lookup.
func WithTokenRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.tokenRetention = retention
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before
// cleanup. Zero or negative disables the audit sweep.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		cleaner.auditRetention = days
	}
}

// WithTokenSchedule overrides the cron expression for the access token sweep.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithDailySchedule overrides the cron expression for the session, reset
// token, and audit sweep.
func WithDailySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.dailySchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewCleaner(db *gorm.DB, tokens *services.AccessTokenService, sessions *iauth.SessionService, resets *services.PasswordResetService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:             db,
		tokens:         tokens,
		sessions:       sessions,
		resets:         resets,
		audit:          audit,
		now:            time.Now,
		auditRetention: defaultAuditRetentionDays,
		tokenSchedule:  defaultTokenSpec,
		dailySchedule:  defaultDailySpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.tokens != nil || cleaner.sessions != nil ||
		cleaner.resets != nil || cleaner.audit != nil

	return cleaner
}

// Start registers the sweeps with the cron scheduler and launches it if at
// least one sweep is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.tokens != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			c.runSweep("token", c.sweepTokens)
		}); err != nil {
			return err
		}
	}

	if c.sessions != nil || c.resets != nil || (c.audit != nil && c.auditRetention > 0) {
		if _, err := c.cron.AddFunc(c.dailySchedule, func() {
			c.runSweep("daily", c.sweepDaily)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running sweep to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially, aggregating step
// errors. Used by tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	err := multierr.Append(c.sweepTokens(ctx), c.sweepDaily(ctx))
	c.record(err)
	return err
}

// LastRun reports when the most recent sweep finished and whether it
// succeeded. The maintenance health check treats a zero time as a cleaner
// still waiting for its first run.
func (c *Cleaner) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}

func (c *Cleaner) runSweep(name string, sweep func(context.Context) error) {
	err := sweep(context.Background())
	c.record(err)
	if err != nil {
		c.log.Warn("maintenance sweep failed", zap.String("sweep", name), zap.Error(err))
	}
}

func (c *Cleaner) record(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = c.now()
	c.lastErr = err
}

// sweepTokens removes access tokens that can never grant access again:
// expired ones immediately, consumed ones once the retention window elapses.
func (c *Cleaner) sweepTokens(ctx context.Context) error {
	if c.tokens == nil {
		return nil
	}

	removed, err := c.tokens.CleanupStale(ctx, c.resolveTokenRetention(ctx))
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned stale access tokens", zap.Int64("removed", removed))
	}
	return nil
}

// sweepDaily removes expired sessions, spent reset tokens, and audit rows
// beyond the retention window.
func (c *Cleaner) sweepDaily(ctx context.Context) error {
	var errs error

	if c.sessions != nil {
		removed, err := c.sessions.CleanupExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned expired sessions", zap.Int64("removed", removed))
		}
	}

	if c.resets != nil {
		removed, err := c.resets.CleanupExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned spent reset tokens", zap.Int64("removed", removed))
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		removed, err := c.audit.CleanupOlderThan(ctx, c.auditRetention)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned old audit rows", zap.Int64("removed", removed))
		}
	}

	return errs
}

// resolveTokenRetention picks the retention window for consumed access
// tokens. A configured override wins; otherwise the installation-wide system
// setting decides, falling back to 30 days when unset or malformed.
func (c *Cleaner) resolveTokenRetention(ctx context.Context) time.Duration {
	if c.tokenRetention > 0 {
		return c.tokenRetention
	}

	raw, err := database.GetSystemSetting(ctx, c.db, database.SettingTokenRetention)
	if err != nil {
		c.log.Warn("token retention lookup failed", zap.Error(err))
		return defaultTokenRetention
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTokenRetention
	}

	retention, err := time.ParseDuration(raw)
	if err != nil || retention <= 0 {
		c.log.Warn("invalid token retention setting", zap.String("value", raw))
		return defaultTokenRetention
	}
	return retention
}
