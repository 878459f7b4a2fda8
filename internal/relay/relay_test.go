package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	dbpkg "github.com/lexiflow/lexiflow-server/internal/db"
	"github.com/lexiflow/lexiflow-server/internal/dispatch"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:relay_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := dbpkg.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func createTestUser(t *testing.T, conn *gorm.DB) *models.User {
	t.Helper()
	now := time.Now().UTC()
	user := models.User{
		Email:     fmt.Sprintf("r%d@example.com", now.UnixNano()),
		Password:  "hash",
		TextQuota: plans.Unlimited,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return &user
}

// stubProvider returns a fixed output, optionally running a hook before
// responding.
type stubProvider struct {
	name   string
	output string
	err    error
	before func()
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Supports(dispatch.Operation) bool { return true }

func (p *stubProvider) Do(context.Context, dispatch.Operation, dispatch.Input) (string, error) {
	if p.before != nil {
		p.before()
	}
	return p.output, p.err
}

func countRecords(t *testing.T, conn *gorm.DB, userID uint64, typ quota.ResourceType) int64 {
	t.Helper()
	var count int64
	if errCount := conn.Model(&models.UsageRecord{}).
		Where("user_id = ? AND type = ?", userID, string(typ)).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count records: %v", errCount)
	}
	return count
}

func TestExecuteConsumesOnSuccess(t *testing.T) {
	conn := openTestDB(t)
	ledger := quota.NewLedger(conn, plans.PriceIDs{})
	user := createTestUser(t, conn)

	d := dispatch.NewDispatcher([]dispatch.Provider{&stubProvider{name: "qwen", output: "translated"}})
	svc := NewService(ledger, d)

	outcome, errExecute := svc.Execute(context.Background(), user.ID, quota.TypeImage, dispatch.OpImageOCR, dispatch.Input{ImageBase64: "aGk="}, "qwen", nil)
	if errExecute != nil {
		t.Fatalf("execute: %v", errExecute)
	}
	if outcome.Output != "translated" || outcome.Provider != "qwen" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	// Trial image allowance is 10.
	if outcome.Remaining != 9 {
		t.Fatalf("expected remaining 9, got %d", outcome.Remaining)
	}
	if got := countRecords(t, conn, user.ID, quota.TypeImage); got != 1 {
		t.Fatalf("expected exactly one record, got %d", got)
	}
}

func TestExecuteFailedDispatchRecordsNothing(t *testing.T) {
	conn := openTestDB(t)
	ledger := quota.NewLedger(conn, plans.PriceIDs{})
	user := createTestUser(t, conn)

	d := dispatch.NewDispatcher([]dispatch.Provider{&stubProvider{name: "qwen", err: errors.New("vendor down")}})
	svc := NewService(ledger, d)

	_, errExecute := svc.Execute(context.Background(), user.ID, quota.TypeImage, dispatch.OpImageOCR, dispatch.Input{}, "qwen", nil)
	var allFailed *dispatch.AllFailedError
	if !errors.As(errExecute, &allFailed) {
		t.Fatalf("expected AllFailedError, got %v", errExecute)
	}
	if got := countRecords(t, conn, user.ID, quota.TypeImage); got != 0 {
		t.Fatalf("failed dispatch must not record usage, got %d", got)
	}
}

func TestExecuteDeniesBeforeDispatchWhenExhausted(t *testing.T) {
	conn := openTestDB(t)
	ledger := quota.NewLedger(conn, plans.PriceIDs{})
	user := createTestUser(t, conn)

	provider := &stubProvider{name: "aliyun", output: "text"}
	d := dispatch.NewDispatcher([]dispatch.Provider{provider})
	svc := NewService(ledger, d)

	// Trial video allowance is 2.
	for i := 0; i < 2; i++ {
		if _, errExecute := svc.Execute(context.Background(), user.ID, quota.TypeVideo, dispatch.OpVideoOCR, dispatch.Input{MediaURL: "http://x/v.mp4"}, "aliyun", nil); errExecute != nil {
			t.Fatalf("execute %d: %v", i, errExecute)
		}
	}

	_, errExecute := svc.Execute(context.Background(), user.ID, quota.TypeVideo, dispatch.OpVideoOCR, dispatch.Input{MediaURL: "http://x/v.mp4"}, "aliyun", nil)
	if !errors.Is(errExecute, quota.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", errExecute)
	}
}

func TestExecuteKeepsResultWhenConcurrentRequestWinsLastSlot(t *testing.T) {
	conn := openTestDB(t)
	ledger := quota.NewLedger(conn, plans.PriceIDs{})
	user := createTestUser(t, conn)

	// Leave exactly one video slot, then have the provider steal it while the
	// request is in flight, reproducing the check/consume window.
	if _, errConsume := ledger.TryConsume(context.Background(), user.ID, quota.TypeVideo, "warmup"); errConsume != nil {
		t.Fatalf("warmup consume: %v", errConsume)
	}
	provider := &stubProvider{name: "aliyun", output: "subtitles"}
	provider.before = func() {
		if _, errConsume := ledger.TryConsume(context.Background(), user.ID, quota.TypeVideo, "rival"); errConsume != nil {
			t.Fatalf("rival consume: %v", errConsume)
		}
	}
	d := dispatch.NewDispatcher([]dispatch.Provider{provider})
	svc := NewService(ledger, d)

	outcome, errExecute := svc.Execute(context.Background(), user.ID, quota.TypeVideo, dispatch.OpVideoOCR, dispatch.Input{MediaURL: "http://x/v.mp4"}, "aliyun", nil)
	if errExecute != nil {
		t.Fatalf("result must be kept despite losing the race: %v", errExecute)
	}
	if outcome.Output != "subtitles" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Remaining != 0 {
		t.Fatalf("expected remaining 0 after losing the race, got %d", outcome.Remaining)
	}
	// Only the warmup and the rival recorded usage; the raced request did not.
	if got := countRecords(t, conn, user.ID, quota.TypeVideo); got != 2 {
		t.Fatalf("expected 2 records, got %d", got)
	}
}
