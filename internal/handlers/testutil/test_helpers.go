package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sataplan/server/internal/api"
	"github.com/sataplan/server/internal/app"
	iauth "github.com/sataplan/server/internal/auth"
	sharedtestutil "github.com/sataplan/server/internal/database/testutil"
	"github.com/sataplan/server/internal/middleware"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/pkg/crypto"
	"github.com/sataplan/server/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
}

// EnvOption customises the environment before the router is built.
type EnvOption func(*envSettings)

type envSettings struct {
	mutateConfig []func(*app.Config)
	routerOpts   []api.RouterOption
}

// WithConfig applies a mutation to the test configuration before wiring.
func WithConfig(mutate func(*app.Config)) EnvOption {
	return func(s *envSettings) {
		s.mutateConfig = append(s.mutateConfig, mutate)
	}
}

// WithRouterOptions forwards extra options (presigner, mailer, health
// evaluator) to the router under test.
func WithRouterOptions(opts ...api.RouterOption) EnvOption {
	return func(s *envSettings) {
		s.routerOpts = append(s.routerOpts, opts...)
	}
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var settings envSettings
	for _, opt := range opts {
		opt(&settings)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg := &app.Config{
		Server: app.ServerConfig{
			PublicBaseURL: "http://localhost:8000",
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Session: app.SessionSettings{
				RefreshTTL:    24 * time.Hour,
				RefreshLength: 48,
			},
			MFA: app.MFASettings{
				// 32 bytes of hex, matching ApplyRuntimeDefaults output.
				EncryptionKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			},
		},
		QR: app.QRConfig{Size: 128},
		Features: app.FeatureConfig{
			Registration: app.ToggleConfig{Enabled: true},
			LiveSearch:   app.ToggleConfig{Enabled: true},
		},
	}
	for _, mutate := range settings.mutateConfig {
		mutate(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, cfg, sessionSvc, middleware.NewMemoryRateStore(), settings.routerOpts...)
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
	}
}

// CreateUser inserts an active user with a random username and the given
// password, returning the record.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	username := "user-" + uuid.NewString()
	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		IsActive: true,
	}

	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// CreateGoal inserts a goal owned by the given user.
func (e *Env) CreateGoal(userID, name, description string) *models.Goal {
	e.T.Helper()

	goal := &models.Goal{
		UserID:      userID,
		Name:        name,
		Description: description,
	}
	require.NoError(e.T, e.DB.Create(goal).Error)
	return goal
}

// AuthUser captures the subset of user fields returned from auth endpoints.
type AuthUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	User         AuthUser `json:"user"`
}

// Login authenticates with a username or email and returns the issued tokens.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.RefreshToken)
	require.Greater(e.T, result.ExpiresIn, 0)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
