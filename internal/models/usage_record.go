package models

import "time"

// UsageRecord marks one successful, quota-consuming operation.
// Rows are append-only; nothing in the server mutates or deletes them except
// the retention cleaner.
type UsageRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_usage_user_type_day"`                      // Owning user ID.
	Type   string `gorm:"column:type;type:text;not null;index:idx_usage_user_type_day"` // Resource type: text, image, pdf, speech, video.

	Provider string `gorm:"type:text"` // Provider that served the operation.

	UsedAt time.Time `gorm:"not null;index:idx_usage_user_type_day"` // Consumption timestamp (UTC).

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (UsageRecord) TableName() string {
	return "usage_records"
}
