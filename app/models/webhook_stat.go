package models

import "time"

// WebhookStat holds per-gateway webhook counters, flushed in batches from the
// Redis pending counters.
type WebhookStat struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Gateway          string    `gorm:"type:varchar(20);not null;uniqueIndex" json:"gateway"`
	ReceivedCount    int64     `gorm:"default:0" json:"received_count"`
	DuplicateCount   int64     `gorm:"default:0" json:"duplicate_count"`
	InvalidSigCount  int64     `gorm:"default:0" json:"invalid_sig_count"`
	FailedCount      int64     `gorm:"default:0" json:"failed_count"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
