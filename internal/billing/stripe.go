// Package billing integrates Stripe subscriptions with the account tier and
// allowance columns.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/config"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/quota"
)

// ErrNotConfigured indicates the Stripe integration has no API key.
var ErrNotConfigured = errors.New("billing: stripe not configured")

// Service owns the Stripe integration: checkout and portal sessions plus
// webhook event application.
type Service struct {
	db     *gorm.DB
	ledger *quota.Ledger
	cfg    config.StripeConfig
}

// NewService constructs a Service and sets the global Stripe API key.
func NewService(db *gorm.DB, ledger *quota.Ledger, cfg config.StripeConfig) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}
	return &Service{db: db, ledger: ledger, cfg: cfg}
}

// Configured reports whether the integration can talk to Stripe.
func (s *Service) Configured() bool {
	return s.cfg.SecretKey != ""
}

// WebhookSecret returns the endpoint signing secret.
func (s *Service) WebhookSecret() string {
	return s.cfg.WebhookSecret
}

// ensureCustomer finds or creates the Stripe customer for a user and stores
// the id on the account.
func (s *Service) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != "" {
		return user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"user_id": fmt.Sprintf("%d", user.ID),
		},
	}
	cust, errNew := customer.New(params)
	if errNew != nil {
		return "", fmt.Errorf("billing: create customer: %w", errNew)
	}

	if errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"stripe_customer_id": cust.ID,
			"updated_at":         time.Now().UTC(),
		}).Error; errUpdate != nil {
		return "", fmt.Errorf("billing: store customer id: %w", errUpdate)
	}
	user.StripeCustomerID = cust.ID
	return cust.ID, nil
}

// CheckoutURL starts a subscription checkout session for the given price and
// returns the hosted payment page URL.
func (s *Service) CheckoutURL(ctx context.Context, user *models.User, priceID string) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if priceID != s.cfg.MonthlyPriceID && priceID != s.cfg.YearlyPriceID {
		return "", fmt.Errorf("billing: unknown price id %q", priceID)
	}

	customerID, errCustomer := s.ensureCustomer(ctx, user)
	if errCustomer != nil {
		return "", errCustomer
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
	}
	sess, errNew := session.New(params)
	if errNew != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", errNew)
	}
	return sess.URL, nil
}

// PortalURL creates a customer portal session for subscription management.
func (s *Service) PortalURL(ctx context.Context, user *models.User) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if user.StripeCustomerID == "" {
		return "", fmt.Errorf("billing: user %d has no stripe customer", user.ID)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(user.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.PortalReturn),
	}
	sess, errNew := portal.New(params)
	if errNew != nil {
		return "", fmt.Errorf("billing: create portal session: %w", errNew)
	}
	return sess.URL, nil
}

// ApplyEvent applies one verified webhook event to the database. Events that
// do not concern subscriptions or invoices are ignored.
func (s *Service) ApplyEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
			return fmt.Errorf("billing: decode subscription event: %w", errUnmarshal)
		}
		return s.applySubscription(ctx, &sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
			return fmt.Errorf("billing: decode subscription event: %w", errUnmarshal)
		}
		return s.clearSubscription(ctx, &sub)
	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if errUnmarshal := json.Unmarshal(event.Data.Raw, &inv); errUnmarshal != nil {
			return fmt.Errorf("billing: decode invoice event: %w", errUnmarshal)
		}
		return s.recordInvoice(ctx, &inv, event.Data.Raw)
	default:
		return nil
	}
}

// applySubscription stores the subscription state on the user and rebuilds
// the allowance vector for the new tier.
func (s *Service) applySubscription(ctx context.Context, sub *stripe.Subscription) error {
	user, errFind := s.userByCustomer(ctx, sub)
	if errFind != nil {
		return errFind
	}

	priceID := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	active := sub.Status == stripe.SubscriptionStatusActive || sub.Status == stripe.SubscriptionStatusTrialing
	if !active {
		priceID = ""
	}

	if errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"stripe_subscription_id": sub.ID,
			"stripe_price_id":        priceID,
			"stripe_period_end":      periodEnd,
			"quota_reset_at":         "",
			"updated_at":             time.Now().UTC(),
		}).Error; errUpdate != nil {
		return fmt.Errorf("billing: store subscription: %w", errUpdate)
	}

	// Clearing the reset marker makes the ledger rebuild the allowance
	// columns from the new tier on the next access; do it eagerly too so the
	// profile reflects the change immediately.
	if errReset := s.ledger.ResetAllowances(ctx, user.ID); errReset != nil {
		log.WithError(errReset).WithField("user_id", user.ID).Warn("rebuild allowances after subscription change failed")
	}
	return nil
}

// clearSubscription drops the subscription state, returning the user to the
// trial tier.
func (s *Service) clearSubscription(ctx context.Context, sub *stripe.Subscription) error {
	user, errFind := s.userByCustomer(ctx, sub)
	if errFind != nil {
		return errFind
	}

	if errUpdate := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"stripe_subscription_id": "",
			"stripe_price_id":        "",
			"stripe_period_end":      nil,
			"quota_reset_at":         "",
			"updated_at":             time.Now().UTC(),
		}).Error; errUpdate != nil {
		return fmt.Errorf("billing: clear subscription: %w", errUpdate)
	}

	if errReset := s.ledger.ResetAllowances(ctx, user.ID); errReset != nil {
		log.WithError(errReset).WithField("user_id", user.ID).Warn("rebuild allowances after cancellation failed")
	}
	return nil
}

// recordInvoice upserts a payment history row keyed by the invoice id.
func (s *Service) recordInvoice(ctx context.Context, inv *stripe.Invoice, raw json.RawMessage) error {
	if inv.Customer == nil || inv.Customer.ID == "" {
		return fmt.Errorf("billing: invoice %s has no customer", inv.ID)
	}

	var user models.User
	if errFind := s.db.WithContext(ctx).
		Where("stripe_customer_id = ?", inv.Customer.ID).
		First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithField("customer", inv.Customer.ID).Warn("invoice event for unknown customer")
			return nil
		}
		return errFind
	}

	status := string(inv.Status)
	amount := inv.AmountPaid
	if strings.EqualFold(status, "open") || amount == 0 {
		amount = inv.AmountDue
	}

	record := models.PaymentHistory{
		UserID:          user.ID,
		StripeInvoiceID: inv.ID,
		AmountCents:     amount,
		Status:          status,
		RawEvent:        datatypes.JSON(raw),
		PaymentDate:     time.Unix(inv.Created, 0).UTC(),
	}

	var existing models.PaymentHistory
	errFind := s.db.WithContext(ctx).
		Where("stripe_invoice_id = ?", inv.ID).
		First(&existing).Error
	switch {
	case errFind == nil:
		if errUpdate := s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"amount_cents": record.AmountCents,
			"status":       record.Status,
			"raw_event":    record.RawEvent,
		}).Error; errUpdate != nil {
			return fmt.Errorf("billing: update payment history: %w", errUpdate)
		}
		return nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		if errCreate := s.db.WithContext(ctx).Create(&record).Error; errCreate != nil {
			return fmt.Errorf("billing: insert payment history: %w", errCreate)
		}
		return nil
	default:
		return errFind
	}
}

// userByCustomer resolves the account a subscription event belongs to.
func (s *Service) userByCustomer(ctx context.Context, sub *stripe.Subscription) (*models.User, error) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("billing: subscription %s has no customer", sub.ID)
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).
		Where("stripe_customer_id = ?", sub.Customer.ID).
		First(&user).Error; errFind != nil {
		return nil, fmt.Errorf("billing: resolve customer %s: %w", sub.Customer.ID, errFind)
	}
	return &user, nil
}
