// Package quota owns the per-user daily allowance ledger: lazy day-boundary
// resets, allowance lookups, and atomic consumption recording.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/lexiflow/lexiflow-server/internal/db"
	"github.com/lexiflow/lexiflow-server/internal/models"
	"github.com/lexiflow/lexiflow-server/internal/plans"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResourceType is the category of operation being quota-metered.
type ResourceType string

// Quota-metered resource types.
const (
	TypeText   ResourceType = "text"
	TypeImage  ResourceType = "image"
	TypePDF    ResourceType = "pdf"
	TypeSpeech ResourceType = "speech"
	TypeVideo  ResourceType = "video"
)

// Ledger errors.
var (
	// ErrNotFound indicates the user ID does not resolve to an account.
	ErrNotFound = errors.New("quota: user not found")
	// ErrQuotaExceeded indicates today's allowance for the type is exhausted.
	ErrQuotaExceeded = errors.New("quota: daily allowance exhausted")
	// ErrUnknownType indicates an unrecognized resource type.
	ErrUnknownType = errors.New("quota: unknown resource type")
)

// ValidType reports whether t names a known resource type.
func ValidType(t ResourceType) bool {
	switch t {
	case TypeText, TypeImage, TypePDF, TypeSpeech, TypeVideo:
		return true
	}
	return false
}

// Ledger answers whether a user may perform one more operation of a resource
// type today, and records consumption after a successful operation.
type Ledger struct {
	db     *gorm.DB
	prices plans.PriceIDs
}

// NewLedger constructs a Ledger.
func NewLedger(conn *gorm.DB, prices plans.PriceIDs) *Ledger {
	return &Ledger{db: conn, prices: prices}
}

// Today returns the current ledger day, formatted YYYY-MM-DD in UTC.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// dayBounds returns [start, end) of the current UTC day.
func dayBounds() (time.Time, time.Time) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// GetAllowance returns the user's allowance and today's usage count for a
// resource type, resetting the allowance vector first if the reset marker is
// stale.
func (l *Ledger) GetAllowance(ctx context.Context, userID uint64, typ ResourceType) (int, int, error) {
	if !ValidType(typ) {
		return 0, 0, ErrUnknownType
	}

	var user models.User
	if errFind := l.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, errFind
	}

	if user.QuotaResetAt != Today() {
		if errReset := l.ResetAllowances(ctx, userID); errReset != nil {
			return 0, 0, errReset
		}
		if errFind := l.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
			return 0, 0, errFind
		}
	}

	used, errCount := l.usedToday(l.db.WithContext(ctx), userID, typ)
	if errCount != nil {
		return 0, 0, errCount
	}
	return allowanceOf(&user, typ), int(used), nil
}

// ResetAllowances overwrites the user's allowance columns with the defaults
// for their current tier and stamps the reset marker with today. Calling it
// twice on the same day is a no-op the second time.
func (l *Ledger) ResetAllowances(ctx context.Context, userID uint64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLoad := l.lockUser(tx, userID)
		if errLoad != nil {
			return errLoad
		}
		return l.resetLocked(tx, user)
	})
}

// TryConsume records one consumption of the resource type if today's
// allowance permits it, returning the remaining count (-1 when unlimited).
// The capacity check and the usage insert run inside one transaction holding
// a row lock on the user, so concurrent calls cannot oversubscribe.
func (l *Ledger) TryConsume(ctx context.Context, userID uint64, typ ResourceType, provider string) (int, error) {
	if !ValidType(typ) {
		return 0, ErrUnknownType
	}

	remaining := 0
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, errLoad := l.lockUser(tx, userID)
		if errLoad != nil {
			return errLoad
		}
		if user.QuotaResetAt != Today() {
			if errReset := l.resetLocked(tx, user); errReset != nil {
				return errReset
			}
		}

		allowance := allowanceOf(user, typ)
		used := int64(0)
		if allowance != plans.Unlimited {
			var errCount error
			used, errCount = l.usedToday(tx, userID, typ)
			if errCount != nil {
				return errCount
			}
			if used >= int64(allowance) {
				return ErrQuotaExceeded
			}
		}

		record := models.UsageRecord{
			UserID:   userID,
			Type:     string(typ),
			Provider: provider,
			UsedAt:   time.Now().UTC(),
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return fmt.Errorf("quota: insert usage record: %w", errCreate)
		}

		if allowance == plans.Unlimited {
			remaining = plans.Unlimited
		} else {
			remaining = allowance - int(used) - 1
		}
		return nil
	})
	if errTx != nil {
		return 0, errTx
	}
	return remaining, nil
}

// lockUser loads the user inside tx, holding a row lock on dialects that
// support it. SQLite serializes writers with its database lock, so the
// locking clause is skipped there.
func (l *Ledger) lockUser(tx *gorm.DB, userID uint64) (*models.User, error) {
	var user models.User
	query := tx
	if !dbutil.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if errFind := query.First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errFind
	}
	return &user, nil
}

// resetLocked applies the tier defaults to an already-locked user row and
// updates the in-memory copy to match.
func (l *Ledger) resetLocked(tx *gorm.DB, user *models.User) error {
	tier := plans.TierOf(user.StripePriceID, l.prices)
	vector := plans.AllowancesFor(tier)
	today := Today()

	if errUpdate := tx.Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(map[string]any{
			"text_quota":     vector.Text,
			"image_quota":    vector.Image,
			"pdf_quota":      vector.PDF,
			"speech_quota":   vector.Speech,
			"video_quota":    vector.Video,
			"quota_reset_at": today,
			"updated_at":     time.Now().UTC(),
		}).Error; errUpdate != nil {
		return fmt.Errorf("quota: reset allowances: %w", errUpdate)
	}

	user.TextQuota = vector.Text
	user.ImageQuota = vector.Image
	user.PDFQuota = vector.PDF
	user.SpeechQuota = vector.Speech
	user.VideoQuota = vector.Video
	user.QuotaResetAt = today
	return nil
}

// usedToday counts today's usage records for (user, type).
func (l *Ledger) usedToday(tx *gorm.DB, userID uint64, typ ResourceType) (int64, error) {
	start, end := dayBounds()
	var count int64
	if errCount := tx.Model(&models.UsageRecord{}).
		Where("user_id = ? AND type = ? AND used_at >= ? AND used_at < ?", userID, string(typ), start, end).
		Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("quota: count usage: %w", errCount)
	}
	return count, nil
}

// allowanceOf picks the allowance column for a resource type.
func allowanceOf(user *models.User, typ ResourceType) int {
	switch typ {
	case TypeText:
		return user.TextQuota
	case TypeImage:
		return user.ImageQuota
	case TypePDF:
		return user.PDFQuota
	case TypeSpeech:
		return user.SpeechQuota
	case TypeVideo:
		return user.VideoQuota
	default:
		return 0
	}
}
