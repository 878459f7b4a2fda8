package models

import "time"

// User represents an end-user account stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique login email.
	Name     string `gorm:"type:text"`                      // Display name.
	Password string `gorm:"type:text"`                      // Hashed password; empty for external-identity accounts.

	GithubID string `gorm:"type:text;index"` // Linked GitHub identity, when present.
	GoogleID string `gorm:"type:text;index"` // Linked Google identity, when present.

	StripeCustomerID     string     `gorm:"type:text;index"` // Billing customer ID.
	StripeSubscriptionID string     `gorm:"type:text"`       // Active subscription ID.
	StripePriceID        string     `gorm:"type:text"`       // Active plan price ID.
	StripePeriodEnd      *time.Time ``                       // Subscription period end; nil means no paid plan.

	TextQuota   int `gorm:"not null;default:-1"` // Daily text allowance; -1 is unlimited.
	ImageQuota  int `gorm:"not null;default:0"`  // Daily image OCR allowance.
	PDFQuota    int `gorm:"not null;default:0"`  // Daily PDF extraction allowance.
	SpeechQuota int `gorm:"not null;default:0"`  // Daily speech recognition allowance.
	VideoQuota  int `gorm:"not null;default:0"`  // Daily video OCR allowance.

	QuotaResetAt string `gorm:"type:text;index"` // Last allowance reset day, formatted YYYY-MM-DD.

	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	TOTPSecret string `gorm:"type:text"` // TOTP secret for MFA.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
