package repository

import (
	"context"
	"go.coinpayportal.com/engine/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BusinessRepository struct {
	db *gorm.DB
}

func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

func (r *BusinessRepository) Get(ctx context.Context, id string) (*db.Business, error) {
	var business db.Business

	err := r.db.WithContext(ctx).Model(&db.Business{}).Where("id = ?", id).First(&business).Error
	if err != nil {
		return nil, wrapNotFound(err, "business "+id)
	}

	return &business, nil
}

// Save inserts the business or updates its webhook settings and tier.
func (r *BusinessRepository) Save(ctx context.Context, business *db.Business) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "webhook_url", "webhook_secret", "tier", "updated_at"}),
	}).Create(business).Error
}
