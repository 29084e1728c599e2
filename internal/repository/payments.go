package repository

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/db"
	"gorm.io/gorm"
)

// Columns set once at creation and never rewritten by a transition.
var immutablePaymentColumns = map[string]struct{}{
	"id":            {},
	"status":        {},
	"expires_at":    {},
	"crypto_amount": {},
	"created_at":    {},
}

type PaymentRepository struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewPaymentRepository(db *gorm.DB, clock clockwork.Clock) *PaymentRepository {
	return &PaymentRepository{db: db, clock: clock}
}

// Create stores a new pending payment. expires_at is derived from created_at.
func (r *PaymentRepository) Create(ctx context.Context, payment *db.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = r.clock.Now().UTC()
	}
	if payment.Status == "" {
		payment.Status = db.PaymentStatusPending
	}
	payment.ExpiresAt = payment.CreatedAt.Add(db.PaymentTTL)

	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*db.Payment, error) {
	var payment db.Payment

	err := r.db.WithContext(ctx).Model(&db.Payment{}).Where("id = ?", id).First(&payment).Error
	if err != nil {
		return nil, wrapNotFound(err, "payment "+id)
	}

	return &payment, nil
}

// ListPending returns up to limit pending payments, oldest first.
func (r *PaymentRepository) ListPending(ctx context.Context, limit int) ([]db.Payment, error) {
	var payments []db.Payment

	err := r.db.WithContext(ctx).
		Model(&db.Payment{}).
		Where("status = ?", db.PaymentStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}

	return payments, nil
}

// Transition moves a payment from one of the expected statuses to the next one, writing fields in the
// same statement. It returns ErrStatusConflict when no row was in an expected status.
func (r *PaymentRepository) Transition(ctx context.Context, id string, from []db.PaymentStatus, to db.PaymentStatus, fields map[string]any) error {
	if len(from) == 0 {
		return fmt.Errorf("transition to %s: no source status", to)
	}

	updates := make(map[string]any, len(fields)+2)
	for column, value := range fields {
		if _, ok := immutablePaymentColumns[column]; ok {
			return fmt.Errorf("%s: %w", column, ErrImmutableField)
		}
		updates[column] = value
	}
	updates["status"] = to
	updates["updated_at"] = r.clock.Now().UTC()

	query := r.db.WithContext(ctx).Model(&db.Payment{}).Where("id = ?", id)
	if len(from) == 1 {
		query = query.Where("status = ?", from[0])
	} else {
		query = query.Where("status IN ?", from)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("transition payment %s to %s: %w", id, to, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("payment %s to %s: %w", id, to, ErrStatusConflict)
	}

	return nil
}

func (r *PaymentRepository) CreateAddress(ctx context.Context, address *db.PaymentAddress) error {
	return r.db.WithContext(ctx).Create(address).Error
}

func (r *PaymentRepository) GetAddress(ctx context.Context, paymentID string) (*db.PaymentAddress, error) {
	var address db.PaymentAddress

	err := r.db.WithContext(ctx).Model(&db.PaymentAddress{}).Where("payment_id = ?", paymentID).First(&address).Error
	if err != nil {
		return nil, wrapNotFound(err, "payment address for "+paymentID)
	}

	return &address, nil
}
