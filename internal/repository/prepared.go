package repository

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/db"
	"gorm.io/gorm"
)

type PreparedRepository struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewPreparedRepository(db *gorm.DB, clock clockwork.Clock) *PreparedRepository {
	return &PreparedRepository{db: db, clock: clock}
}

func (r *PreparedRepository) Create(ctx context.Context, tx *db.PreparedTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = db.PreparedStatusPending
	}

	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *PreparedRepository) Get(ctx context.Context, id string) (*db.PreparedTransaction, error) {
	var tx db.PreparedTransaction

	err := r.db.WithContext(ctx).Model(&db.PreparedTransaction{}).Where("id = ?", id).First(&tx).Error
	if err != nil {
		return nil, wrapNotFound(err, "prepared transaction "+id)
	}

	return &tx, nil
}

// Transition is the prepared-transaction counterpart of PaymentRepository.Transition.
func (r *PreparedRepository) Transition(ctx context.Context, id string, from, to db.PreparedStatus, fields map[string]any) error {
	updates := make(map[string]any, len(fields)+2)
	for column, value := range fields {
		updates[column] = value
	}
	updates["status"] = to
	updates["updated_at"] = r.clock.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&db.PreparedTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("transition prepared transaction %s to %s: %w", id, to, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("prepared transaction %s to %s: %w", id, to, ErrStatusConflict)
	}

	return nil
}
