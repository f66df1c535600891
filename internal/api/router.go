package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/app"
	iauth "github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/auth/mfa"
	"github.com/sataplan/server/internal/handlers"
	"github.com/sataplan/server/internal/middleware"
	"github.com/sataplan/server/internal/monitoring"
	"github.com/sataplan/server/internal/realtime"
	"github.com/sataplan/server/internal/services"
	"github.com/sataplan/server/internal/storage"
	"github.com/sataplan/server/pkg/mail"
)

// RouterOption supplies optional collaborators the router cannot build from
// the database handle alone.
type RouterOption func(*routerDeps)

type routerDeps struct {
	presigner storage.Presigner
	mailer    mail.Mailer
	health    *monitoring.CachedEvaluator
	hub       *realtime.SearchHub
}

// WithPresigner wires the object storage presigner used for cover image
// uploads. Without it the upload endpoints answer 503.
func WithPresigner(p storage.Presigner) RouterOption {
	return func(deps *routerDeps) {
		deps.presigner = p
	}
}

// WithMailer wires the mailer used for password reset delivery. Without it
// reset requests are accepted but no mail leaves the process.
func WithMailer(m mail.Mailer) RouterOption {
	return func(deps *routerDeps) {
		deps.mailer = m
	}
}

// WithHealthEvaluator mounts the health endpoints on the supplied evaluator.
// Without it they answer 404.
func WithHealthEvaluator(h *monitoring.CachedEvaluator) RouterOption {
	return func(deps *routerDeps) {
		deps.health = h
	}
}

// WithSearchHub reuses an externally owned live-search hub so the caller can
// close it during shutdown. Without it the router builds its own.
func WithSearchHub(hub *realtime.SearchHub) RouterOption {
	return func(deps *routerDeps) {
		deps.hub = hub
	}
}

// NewRouter builds the Gin engine: it wires the global middleware chain,
// constructs the domain services on top of the database handle, and registers
// every route group.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sessions *iauth.SessionService, rateStore middleware.RateStore, opts ...RouterOption) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	deps := routerDeps{}
	for _, opt := range opts {
		opt(&deps)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimit(rateStore, 100, time.Minute))

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	users, err := services.NewUserService(db, audit)
	if err != nil {
		return nil, err
	}
	profiles, err := services.NewProfileService(db, audit)
	if err != nil {
		return nil, err
	}
	goals, err := services.NewGoalService(db, audit)
	if err != nil {
		return nil, err
	}
	motivations, err := services.NewMotivationService(db, audit)
	if err != nil {
		return nil, err
	}

	tokenStore, err := services.NewAccessTokenStore(db)
	if err != nil {
		return nil, err
	}
	goalDirectory, err := services.NewGoalDirectory(db)
	if err != nil {
		return nil, err
	}
	tokens, err := services.NewAccessTokenService(tokenStore, goalDirectory, audit,
		services.WithAccessTokenTTL(cfg.QR.TokenTTL))
	if err != nil {
		return nil, err
	}
	qrSvc, err := services.NewQRService(db, tokens, jwt, audit,
		services.WithQRBaseURL(cfg.Server.PublicBaseURL),
		services.WithQRSize(cfg.QR.Size))
	if err != nil {
		return nil, err
	}

	searchSvc, err := services.NewSearchService(db)
	if err != nil {
		return nil, err
	}
	resets, err := services.NewPasswordResetService(db, deps.mailer, audit,
		services.WithResetBaseURL(cfg.Server.PublicBaseURL))
	if err != nil {
		return nil, err
	}
	uploads, err := services.NewUploadService(db, deps.presigner, audit)
	if err != nil {
		return nil, err
	}

	mfaKey, err := app.DecodeKey(cfg.Auth.MFA.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode mfa encryption key: %w", err)
	}
	if length := len(mfaKey); length != 16 && length != 24 && length != 32 {
		return nil, fmt.Errorf("invalid mfa encryption key length: expected 16, 24, or 32 bytes, got %d", length)
	}
	totp, err := mfa.NewTOTPService(db, mfaKey)
	if err != nil {
		return nil, err
	}

	hub := deps.hub
	if hub == nil && cfg.Features.LiveSearch.Enabled {
		hub = realtime.NewSearchHub(SearchHubAdapter(searchSvc))
	}

	authHandler := handlers.NewAuthHandler(users, sessions, resets, totp, jwt)
	profileHandler := handlers.NewProfileHandler(users, profiles)
	goalHandler := handlers.NewGoalHandler(goals)
	motivationHandler := handlers.NewMotivationHandler(motivations)
	qrHandler := handlers.NewQRHandler(qrSvc)
	uploadHandler := handlers.NewUploadHandler(uploads)
	auditHandler := handlers.NewAuditHandler(audit)

	requireAuth := middleware.Auth(jwt)

	api := r.Group("/api")
	api.Use(requireAuth)

	registerAuthRoutes(r, api, authHandler, cfg.Features.Registration.Enabled)
	registerProfileRoutes(api, profileHandler)
	registerGoalRoutes(api, goalHandler)
	registerMotivationRoutes(api, motivationHandler)
	registerQRRoutes(r, api, qrHandler)
	registerUploadRoutes(api, uploadHandler)
	registerAuditRoutes(api, auditHandler)

	if cfg.Features.LiveSearch.Enabled {
		registerSearchRoutes(r, handlers.NewSearchHandler(searchSvc, hub))
	}

	registerHealthRoutes(r, deps.health)
	registerStaticRoutes(r)

	if cfg.Metrics.Enabled {
		endpoint := cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

// SearchHubAdapter adapts the search service to the hub's frame contract;
// each WebSocket frame is answered with the same shape as the HTTP fallback.
// The bootstrap uses it to build a hub it owns and can close on shutdown.
func SearchHubAdapter(search *services.SearchService) realtime.SearchFunc {
	return func(ctx context.Context, req realtime.SearchRequest) (any, error) {
		goals, _, err := search.SearchGoals(ctx, services.SearchOptions{
			Query:    req.Query,
			Page:     req.Page,
			PageSize: req.PageSize,
		})
		if err != nil {
			return nil, err
		}

		results := make([]gin.H, 0, len(goals))
		for _, goal := range goals {
			results = append(results, gin.H{
				"id":          goal.ID,
				"name":        goal.Name,
				"description": goal.Description,
			})
		}
		return results, nil
	}
}
