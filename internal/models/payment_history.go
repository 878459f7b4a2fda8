package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentHistory records the outcome of one billing invoice event.
type PaymentHistory struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index"` // Related user ID.

	StripeInvoiceID string `gorm:"type:text;not null;uniqueIndex"` // Invoice identifier.
	AmountCents     int64  `gorm:"not null;default:0"`             // Invoice amount in cents.
	Status          string `gorm:"type:text;not null"`             // succeeded or failed.

	RawEvent datatypes.JSON `gorm:"type:jsonb"` // Original webhook payload for audit.

	PaymentDate time.Time `gorm:"not null"`                // Invoice timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (PaymentHistory) TableName() string {
	return "payment_history"
}
