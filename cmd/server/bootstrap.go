package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/api"
	"github.com/sataplan/server/internal/app"
	"github.com/sataplan/server/internal/app/maintenance"
	iauth "github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/cache"
	"github.com/sataplan/server/internal/database"
	"github.com/sataplan/server/internal/middleware"
	"github.com/sataplan/server/internal/monitoring"
	"github.com/sataplan/server/internal/monitoring/checks"
	"github.com/sataplan/server/internal/realtime"
	"github.com/sataplan/server/internal/services"
	"github.com/sataplan/server/internal/storage"
	"github.com/sataplan/server/pkg/logger"
	"github.com/sataplan/server/pkg/mail"
)

// runtimeStack bundles long-lived components owned by the process: everything
// here outlives individual requests and is released in Shutdown.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     cache.Store
	Sessions  *iauth.SessionService
	Cleaner   *maintenance.Cleaner
	Hub       *realtime.SearchHub
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, caches, background jobs, and the
// HTTP router. On error every component built so far is released.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	applyGinMode(cfg.Server.Mode)

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	// Secrets missing from the config are generated once and persisted in
	// system settings, so restarts keep sessions and MFA secrets valid.
	generated, err := app.ApplyRuntimeDefaults(ctx, stack.DB, cfg)
	if err != nil {
		return nil, fmt.Errorf("apply runtime defaults: %w", err)
	}
	for key, fresh := range generated {
		if fresh {
			log.Info("generated runtime secret", zap.String("key", key))
		}
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(redisErr))
		} else {
			stack.Redis = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	if stack.Redis != nil {
		sessionCfg.Cache = iauth.NewRedisSessionCache(stack.Redis)
	} else {
		sessionCfg.Cache = iauth.NewDatabaseSessionCache(dbStore)
	}

	stack.Sessions, err = iauth.NewSessionService(stack.DB, jwtSvc, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	var mailer mail.Mailer
	if cfg.SMTP.Enabled {
		if mailer, err = mail.NewSMTPMailer(cfg.SMTP.SMTPSettings()); err != nil {
			return nil, fmt.Errorf("initialise mailer: %w", err)
		}
		log.Info("smtp mailer enabled", zap.String("host", cfg.SMTP.Host))
	}

	var presigner storage.Presigner
	if cfg.Storage.Enabled {
		s3, s3Err := storage.NewS3Presigner(ctx, cfg.Storage.PresignerConfig())
		if s3Err != nil {
			return nil, fmt.Errorf("initialise object storage: %w", s3Err)
		}
		presigner = s3
		log.Info("object storage enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	if cfg.Features.LiveSearch.Enabled {
		searchSvc, searchErr := services.NewSearchService(stack.DB)
		if searchErr != nil {
			return nil, fmt.Errorf("initialise search service: %w", searchErr)
		}
		stack.Hub = realtime.NewSearchHub(api.SearchHubAdapter(searchSvc))
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner, err = buildCleaner(stack.DB, stack.Sessions, cfg)
		if err != nil {
			return nil, err
		}
		if err = stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	evaluator := buildHealthEvaluator(stack, cfg)

	if stack.Redis != nil {
		stack.RateStore = middleware.NewRedisRateStore(stack.Redis)
	} else {
		stack.RateStore = middleware.NewDatabaseRateStore(dbStore)
	}

	opts := []api.RouterOption{api.WithHealthEvaluator(evaluator)}
	if mailer != nil {
		opts = append(opts, api.WithMailer(mailer))
	}
	if presigner != nil {
		opts = append(opts, api.WithPresigner(presigner))
	}
	if stack.Hub != nil {
		opts = append(opts, api.WithSearchHub(stack.Hub))
	}

	stack.Router, err = api.NewRouter(stack.DB, jwtSvc, cfg, stack.Sessions, stack.RateStore, opts...)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown stops background jobs and releases resources in reverse order of
// construction. Safe to call on a partially built stack.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Hub != nil {
		s.Hub.Close()
	}

	if rc, ok := s.Redis.(*cache.RedisClient); ok && rc != nil {
		if err := rc.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func applyGinMode(mode string) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}

// buildCleaner wires the sweeps over their own service instances; they share
// the database handle with the router but carry no request state.
func buildCleaner(db *gorm.DB, sessions *iauth.SessionService, cfg *app.Config) (*maintenance.Cleaner, error) {
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	tokenStore, err := services.NewAccessTokenStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialise token store: %w", err)
	}
	goalDirectory, err := services.NewGoalDirectory(db)
	if err != nil {
		return nil, fmt.Errorf("initialise goal directory: %w", err)
	}
	tokens, err := services.NewAccessTokenService(tokenStore, goalDirectory, audit)
	if err != nil {
		return nil, fmt.Errorf("initialise access token service: %w", err)
	}

	resets, err := services.NewPasswordResetService(db, nil, audit)
	if err != nil {
		return nil, fmt.Errorf("initialise password reset service: %w", err)
	}

	var opts []maintenance.Option
	if cfg.Maintenance.TokenRetention > 0 {
		opts = append(opts, maintenance.WithTokenRetention(cfg.Maintenance.TokenRetention))
	}

	return maintenance.NewCleaner(db, tokens, sessions, resets, audit, opts...), nil
}

// buildHealthEvaluator registers the component probes that apply to this
// deployment; disabled features simply have no check.
func buildHealthEvaluator(stack *runtimeStack, cfg *app.Config) *monitoring.CachedEvaluator {
	manager := monitoring.NewHealthManager()

	manager.RegisterReadiness(checks.Database(stack.DB, 0))

	var pinger checks.RedisPinger
	if rc, ok := stack.Redis.(*cache.RedisClient); ok && rc != nil {
		pinger = rc
	}
	manager.RegisterReadiness(checks.Cache(pinger, cfg.Cache.Redis.Timeout))

	if stack.Cleaner != nil {
		manager.RegisterReadiness(checks.Maintenance(stack.Cleaner, 0))
	}
	if stack.Hub != nil {
		manager.RegisterLiveness(checks.Realtime(stack.Hub))
	}

	return monitoring.NewCachedEvaluator(manager, 0)
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.OpenConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
