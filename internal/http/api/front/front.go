// Package front registers the public and authenticated front-end routes.
package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/billing"
	"github.com/lexiflow/lexiflow-server/internal/config"
	"github.com/lexiflow/lexiflow-server/internal/http/api/front/handlers"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"github.com/lexiflow/lexiflow-server/internal/relay"
	"github.com/lexiflow/lexiflow-server/internal/security"
	"github.com/lexiflow/lexiflow-server/internal/tasks"
)

// Deps carries the shared services the routes depend on.
type Deps struct {
	DB      *gorm.DB
	Ledger  *quota.Ledger
	Relay   *relay.Service
	Runner  *tasks.Runner
	Tasks   *tasks.Store
	Billing *billing.Service
	Prices  plans.PriceIDs
	Auth    config.AuthConfig
	Stripe  config.StripeConfig
}

// RegisterRoutes registers all front-end routes on the engine.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	api := r.Group("/api/v1")

	authHandler := handlers.NewAuthHandler(deps.DB, deps.Auth)
	api.POST("/register", authHandler.Register)
	api.POST("/login", authHandler.Login)
	api.POST("/login/totp", authHandler.LoginTOTP)

	billingHandler := handlers.NewBillingHandler(deps.DB, deps.Billing, deps.Stripe)
	api.GET("/plans", billingHandler.Plans)
	api.POST("/billing/webhook", billingHandler.Webhook)

	authed := api.Group("")
	authed.Use(userAuthMiddleware(deps.DB, deps.Auth))

	profileHandler := handlers.NewProfileHandler(deps.DB, deps.Ledger, deps.Prices)
	authed.GET("/profile", profileHandler.Get)
	authed.PUT("/profile/password", profileHandler.ChangePassword)

	mfaHandler := handlers.NewMFAHandler(deps.DB)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	usageHandler := handlers.NewUsageHandler(deps.DB)
	authed.GET("/usage/stats", usageHandler.Stats)
	authed.GET("/usage/trend", usageHandler.Trend)

	relayHandler := handlers.NewRelayHandler(deps.Relay, deps.Runner, deps.Tasks)
	authed.POST("/translate", relayHandler.Translate)
	authed.POST("/ocr/image", relayHandler.ImageOCR)
	authed.POST("/pdf/extract", relayHandler.PDFExtract)
	authed.POST("/speech/recognize", relayHandler.Speech)
	authed.POST("/video/extract", relayHandler.Video)
	authed.GET("/tasks/:id", relayHandler.TaskStatus)

	authed.POST("/billing/checkout", billingHandler.Checkout)
	authed.POST("/billing/portal", billingHandler.Portal)
	authed.GET("/billing/payments", billingHandler.Payments)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, authCfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(authCfg.JWTSecret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
