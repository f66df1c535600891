package handlers_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/sataplan/server/internal/api"
	"github.com/sataplan/server/internal/handlers/testutil"
	"github.com/sataplan/server/pkg/mail"
)

func TestAuthHandler_SignupLoginRefreshLogout(t *testing.T) {
	env := testutil.NewEnv(t)

	signup := map[string]string{
		"username": "signup_tester",
		"email":    "signup_tester@example.com",
		"password": "Sign1Up!pass",
	}
	w := env.Request(http.MethodPost, "/api/auth/signup", signup, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := testutil.DecodeResponse(t, w)
	require.True(t, created.Success)
	var account testutil.AuthUser
	testutil.DecodeInto(t, created.Data, &account)
	require.Equal(t, "signup_tester", account.Username)
	require.Equal(t, "signup_tester@example.com", account.Email)
	require.True(t, account.IsActive)
	require.False(t, account.MFAEnabled)

	// Username and email are unique
	dup := env.Request(http.MethodPost, "/api/auth/signup", signup, "")
	require.Equal(t, http.StatusBadRequest, dup.Code)
	require.Equal(t, "USER_EXISTS", testutil.DecodeResponse(t, dup).Error.Code)

	login := env.Login("signup_tester", "Sign1Up!pass")
	require.Equal(t, "bearer", login.TokenType)
	require.Equal(t, account.ID, login.User.ID)

	me := env.Request(http.MethodGet, "/api/user/me", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())

	// Refresh rotates the pair; the spent token stops working
	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": login.RefreshToken}, "")
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	var rotated testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, refresh).Data, &rotated)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEmpty(t, rotated.RefreshToken)
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	replay := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": login.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, replay.Code, replay.Body.String())

	logout := env.Request(http.MethodPost, "/api/auth/logout", nil, rotated.AccessToken)
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	// The revoked session cannot mint new access tokens
	afterLogout := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh_token": rotated.RefreshToken}, "")
	require.Equal(t, http.StatusUnauthorized, afterLogout.Code)
}

func TestAuthHandler_SignupValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	cases := []struct {
		name    string
		payload map[string]string
	}{
		{"weak password", map[string]string{"username": "weak_pass", "email": "weak_pass@example.com", "password": "alllowercase1"}},
		{"username with spaces", map[string]string{"username": "has spaces", "email": "spaces@example.com", "password": "Sign1Up!pass"}},
		{"reserved username", map[string]string{"username": "admin", "email": "reserved@example.com", "password": "Sign1Up!pass"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.Request(http.MethodPost, "/api/auth/signup", tc.payload, "")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestAuthHandler_LoginFailures(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("Correct1!pass")

	bad := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "Wrong1!password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, bad.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, bad).Error.Code)

	missing := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": "",
		"password":   "",
	}, "")
	require.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestAuthHandler_MFAFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser("T0tp!Secret")
	login := env.Login(user.Username, "T0tp!Secret")

	setup := env.Request(http.MethodPost, "/api/auth/mfa/setup", nil, login.AccessToken)
	require.Equal(t, http.StatusOK, setup.Code, setup.Body.String())

	var enrollment struct {
		Secret     string   `json:"secret"`
		OTPAuthURL string   `json:"otpauth_url"`
		QRCode     string   `json:"qr_code"`
		Backup     []string `json:"backup_codes"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, setup).Data, &enrollment)
	require.NotEmpty(t, enrollment.Secret)
	require.NotEmpty(t, enrollment.QRCode)
	require.NotEmpty(t, enrollment.Backup)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	activate := env.Request(http.MethodPost, "/api/auth/mfa/activate", map[string]string{"code": code}, login.AccessToken)
	require.Equal(t, http.StatusOK, activate.Code, activate.Body.String())

	// Password alone is no longer enough
	challenge := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "T0tp!Secret",
	}, "")
	require.Equal(t, http.StatusUnauthorized, challenge.Code)
	require.Equal(t, "auth.mfa_required", testutil.DecodeResponse(t, challenge).Error.Code)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	withCode := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "T0tp!Secret",
		"otp_code":   code,
	}, "")
	require.Equal(t, http.StatusOK, withCode.Code, withCode.Body.String())

	// A backup code also satisfies the challenge, once
	withBackup := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "T0tp!Secret",
		"otp_code":   enrollment.Backup[0],
	}, "")
	require.Equal(t, http.StatusOK, withBackup.Code, withBackup.Body.String())

	reusedBackup := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "T0tp!Secret",
		"otp_code":   enrollment.Backup[0],
	}, "")
	require.Equal(t, http.StatusUnauthorized, reusedBackup.Code)

	var session testutil.LoginResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, withCode).Data, &session)

	code, err = totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)
	disable := env.Request(http.MethodDelete, "/api/auth/mfa", map[string]string{"code": code}, session.AccessToken)
	require.Equal(t, http.StatusOK, disable.Code, disable.Body.String())

	plain := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "T0tp!Secret",
	}, "")
	require.Equal(t, http.StatusOK, plain.Code, plain.Body.String())
}

type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *captureMailer) last(t *testing.T) mail.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.messages)
	return m.messages[len(m.messages)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func TestAuthHandler_PasswordResetFlow(t *testing.T) {
	mailer := &captureMailer{}
	env := testutil.NewEnv(t, testutil.WithRouterOptions(api.WithMailer(mailer)))
	user := env.CreateUser("Old1!password")

	forgot := env.Request(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": user.Email}, "")
	require.Equal(t, http.StatusOK, forgot.Code, forgot.Body.String())
	require.Equal(t, 1, mailer.count())

	// Unknown addresses get the same answer and no email
	unknown := env.Request(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "nobody@example.com"}, "")
	require.Equal(t, http.StatusOK, unknown.Code)
	require.Equal(t, 1, mailer.count())

	message := mailer.last(t)
	require.Equal(t, []string{user.Email}, message.To)
	token := extractResetToken(t, message.Body)

	reset := env.Request(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":        token,
		"new_password": "New1!password",
	}, "")
	require.Equal(t, http.StatusOK, reset.Code, reset.Body.String())

	// Old credentials are gone, new ones work
	old := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"identifier": user.Username,
		"password":   "Old1!password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, old.Code)
	env.Login(user.Username, "New1!password")

	// The token is single use
	replay := env.Request(http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token":        token,
		"new_password": "Third1!password",
	}, "")
	require.Equal(t, http.StatusBadRequest, replay.Code, replay.Body.String())
}

func extractResetToken(t *testing.T, body string) string {
	t.Helper()
	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0, "reset email should contain a token link: %s", body)
	token := body[idx+len("token="):]
	if end := strings.IndexAny(token, "\r\n"); end >= 0 {
		token = token[:end]
	}
	return strings.TrimSpace(token)
}
