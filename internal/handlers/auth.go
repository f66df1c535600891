package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/sataplan/server/internal/auth"
	"github.com/sataplan/server/internal/auth/mfa"
	"github.com/sataplan/server/internal/models"
	"github.com/sataplan/server/internal/services"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/metrics"
	"github.com/sataplan/server/pkg/response"
)

// AuthHandler manages account signup and the session lifecycle
// (login/refresh/logout), password resets and TOTP enrollment.
type AuthHandler struct {
	users    *services.UserService
	sessions *iauth.SessionService
	resets   *services.PasswordResetService
	totp     *mfa.TOTPService
	jwt      *iauth.JWTService
}

func NewAuthHandler(users *services.UserService, sessions *iauth.SessionService, resets *services.PasswordResetService, totp *mfa.TOTPService, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions, resets: resets, totp: totp, jwt: jwt}
}

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=64"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	OTPCode    string `json:"otp_code" validate:"omitempty,min=6,max=12"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// POST /api/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, marshalAuthUser(user))
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Authenticate(requestContext(c), req.Identifier, req.Password, services.LoginMetadata{
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	if user.MFAEnabled {
		code := strings.TrimSpace(req.OTPCode)
		if code == "" {
			metrics.AuthAttempts.WithLabelValues("mfa_required").Inc()
			response.Error(c, apperrors.ErrMFARequired)
			return
		}
		if !h.verifyOTP(user.ID, code) {
			metrics.AuthAttempts.WithLabelValues("failure").Inc()
			response.Error(c, apperrors.ErrMFAInvalid)
			return
		}
	}

	pair, _, err := h.sessions.CreateSession(user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
		"expires_in":    int(h.jwt.AccessTokenTTL().Seconds()),
		"user":          marshalAuthUser(user),
	})
}

// verifyOTP accepts either a live TOTP code or an unused backup code.
func (h *AuthHandler) verifyOTP(userID, code string) bool {
	if h.totp == nil {
		return false
	}
	if ok, err := h.totp.VerifyCode(userID, code); err == nil && ok {
		return true
	}
	ok, err := h.totp.UseBackupCode(userID, code)
	return err == nil && ok
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		response.Error(c, apperrors.NewBadRequest("refresh token is required"))
		return
	}

	pair, _, err := h.sessions.RefreshSession(req.RefreshToken)
	if err != nil {
		// Normalise all refresh failures to 401
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(h.jwt.AccessTokenTTL().Seconds()),
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	v, ok := c.Get("sessionID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	sid, _ := v.(string)
	if sid == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(sid); err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/auth/forgot-password
//
// Always answers 200 so the endpoint cannot be used to probe which email
// addresses have accounts.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.resets.Request(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "If that account exists, a reset link is on its way",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=64"`
}

// POST /api/auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.resets.Reset(requestContext(c), req.Token, req.NewPassword); err != nil {
		respondResetError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

type mfaCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=12"`
}

type mfaSetupResponse struct {
	Secret     string   `json:"secret"`
	OTPAuthURL string   `json:"otpauth_url"`
	QRCode     string   `json:"qr_code"`
	Backup     []string `json:"backup_codes"`
}

// POST /api/auth/mfa/setup
func (h *AuthHandler) SetupMFA(c *gin.Context) {
	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	key, backupCodes, err := h.totp.GenerateSecret(user.ID, user.Username)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	qr, err := h.totp.GenerateQRCode(key)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, mfaSetupResponse{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     base64.StdEncoding.EncodeToString(qr),
		Backup:     backupCodes,
	})
}

// POST /api/auth/mfa/activate
func (h *AuthHandler) ActivateMFA(c *gin.Context) {
	var req mfaCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	valid, err := h.totp.VerifyCode(userID, req.Code)
	if err != nil || !valid {
		response.Error(c, apperrors.ErrMFAInvalid)
		return
	}

	if err := h.users.SetMFAEnabled(requestContext(c), userID, true); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"enabled": true})
}

// DELETE /api/auth/mfa
func (h *AuthHandler) DisableMFA(c *gin.Context) {
	var req mfaCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	v, ok := c.Get("userID")
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	userID, _ := v.(string)

	if !h.verifyOTP(userID, strings.TrimSpace(req.Code)) {
		response.Error(c, apperrors.ErrMFAInvalid)
		return
	}

	if err := h.totp.Disable(userID); err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	if err := h.users.SetMFAEnabled(requestContext(c), userID, false); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"disabled": true})
}

func respondResetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrResetNotFound):
		response.Error(c, apperrors.NewBadRequest("reset token is invalid"))
	case errors.Is(err, services.ErrResetExpired):
		response.Error(c, apperrors.NewBadRequest("reset token has expired"))
	case errors.Is(err, services.ErrResetUsed):
		response.Error(c, apperrors.NewBadRequest("reset token has already been used"))
	default:
		response.Error(c, err)
	}
}

func marshalAuthUser(user *models.User) gin.H {
	if user == nil {
		return gin.H{}
	}
	return gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"is_active":   user.IsActive,
		"mfa_enabled": user.MFAEnabled,
	}
}
