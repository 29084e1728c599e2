package db

import (
	"gorm.io/gorm/schema"
	"time"
)

var _ schema.Tabler = (*Business)(nil)
var _ schema.Tabler = (*WebhookLog)(nil)

type Business struct {
	ID            string `gorm:"primaryKey;size:36"`
	Name          string
	WebhookURL    string
	WebhookSecret string
	Tier          string `gorm:"size:16;default:free"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b *Business) TableName() string {
	return "businesses"
}

// WebhookLog is append-only, one row per delivery attempt.
type WebhookLog struct {
	ID             string `gorm:"primaryKey;size:36"`
	BusinessID     string `gorm:"size:36;index"`
	PaymentID      string `gorm:"size:36;index"`
	Event          string `gorm:"size:32"`
	WebhookURL     string
	Success        bool
	StatusCode     int
	ErrorMessage   string
	AttemptNumber  int
	ResponseTimeMs int64
	CreatedAt      time.Time
}

func (l *WebhookLog) TableName() string {
	return "webhook_logs"
}
