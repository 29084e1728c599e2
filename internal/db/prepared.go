package db

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
	"time"
)

var _ schema.Tabler = (*PreparedTransaction)(nil)

type PreparedStatus string

const (
	PreparedStatusPending      PreparedStatus = "pending"
	PreparedStatusBroadcasting PreparedStatus = "broadcasting"
	PreparedStatusBroadcast    PreparedStatus = "broadcast"
	PreparedStatusFailed       PreparedStatus = "failed"
)

// PreparedTransaction is a transfer built for a client to sign externally.
type PreparedTransaction struct {
	ID           string          `gorm:"primaryKey;size:36"`
	BusinessID   string          `gorm:"size:36;index"`
	Chain        string          `gorm:"size:16"`
	FromAddress  string          `gorm:"size:128"`
	ToAddress    string          `gorm:"size:128"`
	Amount       decimal.Decimal `gorm:"type:numeric(38,18)"`
	Status       PreparedStatus  `gorm:"size:16;index"`
	TxHash       string          `gorm:"size:128"`
	ErrorMessage string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p *PreparedTransaction) TableName() string {
	return "prepared_transactions"
}
