package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sataplan/server/internal/handlers"
	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.AuthHandler, registrationOpen bool) {
	auth := engine.Group("/api/auth")
	{
		if registrationOpen {
			auth.POST("/signup", handler.Signup)
		} else {
			auth.POST("/signup", registrationClosed)
		}
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/forgot-password", handler.ForgotPassword)
		auth.POST("/reset-password", handler.ResetPassword)
	}

	api.POST("/auth/logout", handler.Logout)

	mfa := api.Group("/auth/mfa")
	{
		mfa.POST("/setup", handler.SetupMFA)
		mfa.POST("/activate", handler.ActivateMFA)
		mfa.DELETE("", handler.DisableMFA)
	}
}

func registrationClosed(c *gin.Context) {
	response.Error(c, apperrors.New("REGISTRATION_DISABLED", "registration is disabled on this server", http.StatusForbidden))
}
