package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/billing"
	"github.com/lexiflow/lexiflow-server/internal/config"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = int64(65536)

// BillingHandler handles subscription and payment endpoints.
type BillingHandler struct {
	db        *gorm.DB
	svc       *billing.Service
	stripeCfg config.StripeConfig
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(db *gorm.DB, svc *billing.Service, stripeCfg config.StripeConfig) *BillingHandler {
	return &BillingHandler{db: db, svc: svc, stripeCfg: stripeCfg}
}

// Plans lists the subscription tiers with their daily allowance vectors.
func (h *BillingHandler) Plans(c *gin.Context) {
	out := make([]gin.H, 0, 3)
	for _, tier := range []plans.Tier{plans.TierTrial, plans.TierMonthly, plans.TierYearly} {
		vector := plans.AllowancesFor(tier)
		entry := gin.H{
			"tier": string(tier),
			"daily_allowances": gin.H{
				"text":   vector.Text,
				"image":  vector.Image,
				"pdf":    vector.PDF,
				"speech": vector.Speech,
				"video":  vector.Video,
			},
		}
		switch tier {
		case plans.TierMonthly:
			entry["price_id"] = h.stripeCfg.MonthlyPriceID
		case plans.TierYearly:
			entry["price_id"] = h.stripeCfg.YearlyPriceID
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

// checkoutRequest defines the request body for starting a checkout.
type checkoutRequest struct {
	PriceID string `json:"price_id"`
}

// Checkout starts a subscription checkout session.
func (h *BillingHandler) Checkout(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var body checkoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	priceID := strings.TrimSpace(body.PriceID)
	if priceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing price_id"})
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

	url, errCheckout := h.svc.CheckoutURL(c.Request.Context(), user, priceID)
	if errCheckout != nil {
		if errors.Is(errCheckout, billing.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
			return
		}
		log.WithError(errCheckout).WithField("user_id", userID).Error("create checkout session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create checkout session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Portal creates a customer portal session for subscription management.
func (h *BillingHandler) Portal(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
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
	if user.StripeCustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no billing account"})
		return
	}

	url, errPortal := h.svc.PortalURL(c.Request.Context(), user)
	if errPortal != nil {
		if errors.Is(errPortal, billing.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
			return
		}
		log.WithError(errPortal).WithField("user_id", userID).Error("create portal session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create portal session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Payments lists the user's payment history, newest first.
func (h *BillingHandler) Payments(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	var records []models.PaymentHistory
	if errQuery := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("payment_date DESC").
		Limit(100).
		Find(&records).Error; errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, record := range records {
		out = append(out, gin.H{
			"invoice_id":   record.StripeInvoiceID,
			"amount_cents": record.AmountCents,
			"status":       record.Status,
			"payment_date": record.PaymentDate,
		})
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

// Webhook verifies and applies a Stripe webhook event.
func (h *BillingHandler) Webhook(c *gin.Context) {
	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	secret := h.svc.WebhookSecret()
	if secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
		return
	}

	event, errVerify := webhook.ConstructEventWithOptions(
		body,
		c.GetHeader("Stripe-Signature"),
		secret,
		webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		},
	)
	if errVerify != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	if errApply := h.svc.ApplyEvent(c.Request.Context(), event); errApply != nil {
		log.WithError(errApply).WithField("event", string(event.Type)).Error("apply webhook event failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply event failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
