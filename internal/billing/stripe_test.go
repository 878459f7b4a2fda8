package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/lexiflow/lexiflow-server/internal/config"
	dbpkg "github.com/lexiflow/lexiflow-server/internal/db"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/quota"
)

var testStripeCfg = config.StripeConfig{
	MonthlyPriceID: "price_monthly",
	YearlyPriceID:  "price_yearly",
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:billing_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := dbpkg.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *models.User) {
	t.Helper()
	conn := openTestDB(t)
	ledger := quota.NewLedger(conn, plans.PriceIDs{Monthly: testStripeCfg.MonthlyPriceID, Yearly: testStripeCfg.YearlyPriceID})
	svc := NewService(conn, ledger, testStripeCfg)

	now := time.Now().UTC()
	user := models.User{
		Email:            fmt.Sprintf("b%d@example.com", now.UnixNano()),
		Password:         "hash",
		StripeCustomerID: "cus_test_1",
		TextQuota:        plans.Unlimited,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return svc, conn, &user
}

func subscriptionEvent(t *testing.T, eventType, priceID, status string) stripe.Event {
	t.Helper()
	payload := map[string]any{
		"id":       "sub_test_1",
		"status":   status,
		"customer":           map[string]any{"id": "cus_test_1"},
		"current_period_end": time.Now().AddDate(0, 1, 0).Unix(),
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": priceID}},
			},
		},
	}
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		t.Fatalf("marshal payload: %v", errMarshal)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestApplySubscriptionCreatedUpgradesTier(t *testing.T) {
	svc, conn, user := newTestService(t)

	event := subscriptionEvent(t, "customer.subscription.created", "price_monthly", "active")
	if errApply := svc.ApplyEvent(context.Background(), event); errApply != nil {
		t.Fatalf("apply event: %v", errApply)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.StripePriceID != "price_monthly" || reloaded.StripeSubscriptionID != "sub_test_1" {
		t.Fatalf("subscription not stored: %+v", reloaded)
	}
	if reloaded.ImageQuota != 50 || reloaded.VideoQuota != 10 {
		t.Fatalf("monthly allowance vector not applied: image=%d video=%d", reloaded.ImageQuota, reloaded.VideoQuota)
	}
	if reloaded.StripePeriodEnd == nil {
		t.Fatalf("period end not stored")
	}
}

func TestApplySubscriptionDeletedRevertsToTrial(t *testing.T) {
	svc, conn, user := newTestService(t)

	created := subscriptionEvent(t, "customer.subscription.created", "price_yearly", "active")
	if errApply := svc.ApplyEvent(context.Background(), created); errApply != nil {
		t.Fatalf("apply created: %v", errApply)
	}
	deleted := subscriptionEvent(t, "customer.subscription.deleted", "price_yearly", "canceled")
	if errApply := svc.ApplyEvent(context.Background(), deleted); errApply != nil {
		t.Fatalf("apply deleted: %v", errApply)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.StripePriceID != "" || reloaded.StripeSubscriptionID != "" {
		t.Fatalf("subscription not cleared: %+v", reloaded)
	}
	if reloaded.ImageQuota != 10 || reloaded.VideoQuota != 2 {
		t.Fatalf("trial allowance vector not restored: image=%d video=%d", reloaded.ImageQuota, reloaded.VideoQuota)
	}
}

func TestApplyInactiveSubscriptionFallsBackToTrial(t *testing.T) {
	svc, conn, user := newTestService(t)

	event := subscriptionEvent(t, "customer.subscription.updated", "price_monthly", "past_due")
	if errApply := svc.ApplyEvent(context.Background(), event); errApply != nil {
		t.Fatalf("apply event: %v", errApply)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.StripePriceID != "" {
		t.Fatalf("inactive subscription must not keep a price id: %q", reloaded.StripePriceID)
	}
	if reloaded.ImageQuota != 10 {
		t.Fatalf("trial allowance expected, got image=%d", reloaded.ImageQuota)
	}
}

func invoiceEvent(t *testing.T, eventType, invoiceID, status string, amountPaid, amountDue int64) stripe.Event {
	t.Helper()
	payload := map[string]any{
		"id":          invoiceID,
		"status":      status,
		"customer":    map[string]any{"id": "cus_test_1"},
		"amount_paid": amountPaid,
		"amount_due":  amountDue,
		"created":     time.Now().Unix(),
	}
	raw, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		t.Fatalf("marshal payload: %v", errMarshal)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestRecordInvoiceInsertsAndUpdates(t *testing.T) {
	svc, conn, user := newTestService(t)

	paid := invoiceEvent(t, "invoice.payment_succeeded", "in_test_1", "paid", 999, 999)
	if errApply := svc.ApplyEvent(context.Background(), paid); errApply != nil {
		t.Fatalf("apply paid: %v", errApply)
	}

	var record models.PaymentHistory
	if errFind := conn.Where("stripe_invoice_id = ?", "in_test_1").First(&record).Error; errFind != nil {
		t.Fatalf("load record: %v", errFind)
	}
	if record.UserID != user.ID || record.AmountCents != 999 || record.Status != "paid" {
		t.Fatalf("unexpected record %+v", record)
	}

	// A replayed event must update in place, not duplicate.
	if errApply := svc.ApplyEvent(context.Background(), paid); errApply != nil {
		t.Fatalf("apply replay: %v", errApply)
	}
	var count int64
	if errCount := conn.Model(&models.PaymentHistory{}).Where("stripe_invoice_id = ?", "in_test_1").Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("replay must not duplicate: got %d rows", count)
	}
}

func TestApplyEventIgnoresUnrelatedTypes(t *testing.T) {
	svc, _, _ := newTestService(t)

	event := stripe.Event{
		Type: stripe.EventType("charge.refunded"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if errApply := svc.ApplyEvent(context.Background(), event); errApply != nil {
		t.Fatalf("unrelated event must be ignored: %v", errApply)
	}
}
