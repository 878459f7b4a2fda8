package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	dbpkg "github.com/lexiflow/lexiflow-server/internal/db"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"gorm.io/gorm"
)

var testPrices = plans.PriceIDs{Monthly: "price_monthly", Yearly: "price_yearly"}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:quota_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := dbpkg.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func createTestUser(t *testing.T, conn *gorm.DB, priceID string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		Email:         fmt.Sprintf("u%d@example.com", now.UnixNano()),
		Password:      "hash",
		StripePriceID: priceID,
		TextQuota:     plans.Unlimited,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return &user
}

func TestTryConsumeDecrementsRemaining(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	remaining, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeVideo, "aliyun")
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	// Trial video allowance is 2; one consumption leaves 1.
	if remaining != 1 {
		t.Fatalf("expected remaining 1, got %d", remaining)
	}

	remaining, errConsume = ledger.TryConsume(context.Background(), user.ID, TypeVideo, "aliyun")
	if errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

func TestTryConsumeDeniesWhenExhausted(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	for i := 0; i < 2; i++ {
		if _, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeVideo, "aliyun"); errConsume != nil {
			t.Fatalf("consume %d: %v", i, errConsume)
		}
	}

	_, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeVideo, "aliyun")
	if !errors.Is(errConsume, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", errConsume)
	}

	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).Where("user_id = ?", user.ID).Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if count != 2 {
		t.Fatalf("denied consumption must not insert a record: expected 2, got %d", count)
	}
}

func TestTryConsumeUnlimitedTextNeverDenies(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	for i := 0; i < 30; i++ {
		remaining, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeText, "deepseek")
		if errConsume != nil {
			t.Fatalf("consume %d: %v", i, errConsume)
		}
		if remaining != plans.Unlimited {
			t.Fatalf("unlimited type must report -1 remaining, got %d", remaining)
		}
	}
}

func TestTryConsumeUnknownType(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	if _, errConsume := ledger.TryConsume(context.Background(), user.ID, ResourceType("audio"), "x"); !errors.Is(errConsume, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", errConsume)
	}
}

func TestTryConsumeUnknownUser(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)

	if _, errConsume := ledger.TryConsume(context.Background(), 9999, TypeImage, "qwen"); !errors.Is(errConsume, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errConsume)
	}
}

func TestLazyResetOnNewDay(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "price_monthly")

	// Simulate a stale account: yesterday's reset marker, zeroed columns, and
	// yesterday's usage records.
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	if errUpdate := conn.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"image_quota":    0,
		"quota_reset_at": yesterday.Format("2006-01-02"),
	}).Error; errUpdate != nil {
		t.Fatalf("update user: %v", errUpdate)
	}
	for i := 0; i < 3; i++ {
		record := models.UsageRecord{UserID: user.ID, Type: string(TypeImage), Provider: "qwen", UsedAt: yesterday}
		if errCreate := conn.Create(&record).Error; errCreate != nil {
			t.Fatalf("create record: %v", errCreate)
		}
	}

	allowance, used, errAllowance := ledger.GetAllowance(context.Background(), user.ID, TypeImage)
	if errAllowance != nil {
		t.Fatalf("get allowance: %v", errAllowance)
	}
	if allowance != 50 {
		t.Fatalf("monthly image allowance after reset: expected 50, got %d", allowance)
	}
	if used != 0 {
		t.Fatalf("yesterday's records must not count today: expected used 0, got %d", used)
	}

	var reloaded models.User
	if errFind := conn.First(&reloaded, user.ID).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if reloaded.QuotaResetAt != Today() {
		t.Fatalf("reset marker not stamped: got %q", reloaded.QuotaResetAt)
	}
	if reloaded.VideoQuota != 10 || reloaded.SpeechQuota != 30 || reloaded.PDFQuota != 40 {
		t.Fatalf("full vector not applied: %+v", reloaded)
	}
}

func TestResetAllowancesIdempotentSameDay(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	if errReset := ledger.ResetAllowances(context.Background(), user.ID); errReset != nil {
		t.Fatalf("reset: %v", errReset)
	}
	if _, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeImage, "qwen"); errConsume != nil {
		t.Fatalf("consume: %v", errConsume)
	}

	// A second reset on the same day must not refund today's usage, because
	// usage is counted from records rather than a decremented column.
	if errReset := ledger.ResetAllowances(context.Background(), user.ID); errReset != nil {
		t.Fatalf("reset again: %v", errReset)
	}
	allowance, used, errAllowance := ledger.GetAllowance(context.Background(), user.ID, TypeImage)
	if errAllowance != nil {
		t.Fatalf("get allowance: %v", errAllowance)
	}
	if allowance != 10 || used != 1 {
		t.Fatalf("expected allowance 10 used 1, got %d/%d", allowance, used)
	}
}

func TestConcurrentConsumeNeverOversubscribes(t *testing.T) {
	conn := openTestDB(t)
	ledger := NewLedger(conn, testPrices)
	user := createTestUser(t, conn, "")

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errConsume := ledger.TryConsume(context.Background(), user.ID, TypeVideo, "aliyun")
			results <- errConsume
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for errConsume := range results {
		if errConsume == nil {
			successes++
		}
	}
	// Trial video allowance is 2: concurrent attempts must never record more
	// than that, and the records must match the granted count exactly.
	if successes > 2 {
		t.Fatalf("oversubscribed: %d successes for allowance 2", successes)
	}
	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).
		Where("user_id = ? AND type = ?", user.ID, string(TypeVideo)).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	if int(count) != successes {
		t.Fatalf("records (%d) must equal granted consumptions (%d)", count, successes)
	}
}
