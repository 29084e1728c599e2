package repository

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"go.coinpayportal.com/engine/internal/db"
	"gorm.io/gorm"
)

type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Append(ctx context.Context, entry *db.WebhookLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append webhook log: %w", err)
	}

	return nil
}

func (r *WebhookLogRepository) ListByPayment(ctx context.Context, paymentID string) ([]db.WebhookLog, error) {
	var logs []db.WebhookLog

	err := r.db.WithContext(ctx).
		Model(&db.WebhookLog{}).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, attempt_number ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}

	return logs, nil
}
