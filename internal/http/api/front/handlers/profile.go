package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"github.com/lexiflow/lexiflow-server/internal/security"
)

// ProfileHandler handles account profile endpoints.
type ProfileHandler struct {
	db     *gorm.DB
	ledger *quota.Ledger
	prices plans.PriceIDs
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB, ledger *quota.Ledger, prices plans.PriceIDs) *ProfileHandler {
	return &ProfileHandler{db: db, ledger: ledger, prices: prices}
}

// Get returns the profile with the subscription tier and today's allowance
// state per resource type.
func (h *ProfileHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	quotas := gin.H{}
	for _, typ := range []quota.ResourceType{quota.TypeText, quota.TypeImage, quota.TypePDF, quota.TypeSpeech, quota.TypeVideo} {
		allowance, used, errAllowance := h.ledger.GetAllowance(c.Request.Context(), userID, typ)
		if errAllowance != nil {
			if errAllowance == quota.ErrNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		remaining := allowance - used
		if allowance == plans.Unlimited {
			remaining = plans.Unlimited
		} else if remaining < 0 {
			remaining = 0
		}
		quotas[string(typ)] = gin.H{
			"allowance": allowance,
			"used":      used,
			"remaining": remaining,
		}
	}

	user, found, errLoad := loadUser(c.Request.Context(), h.db, userID)
	if errLoad != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	tier := plans.TierOf(user.StripePriceID, h.prices)
	resp := gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"tier":       string(tier),
		"quotas":     quotas,
		"created_at": user.CreatedAt,
	}
	if user.StripePeriodEnd != nil {
		resp["subscription_period_end"] = user.StripePeriodEnd
	}
	c.JSON(http.StatusOK, resp)
}

// changePasswordRequest defines the request body for password changes.
type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword updates the password after verifying the current one.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	oldPassword := strings.TrimSpace(body.OldPassword)
	newPassword := strings.TrimSpace(body.NewPassword)
	if oldPassword == "" || len(newPassword) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}

	user, found, errLoad := loadUser(c.Request.Context(), h.db, userID)
	if errLoad != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if !security.CheckPassword(user.Password, oldPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	hash, errHash := security.HashPassword(newPassword)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"password":   hash,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
