package db

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
	"strings"
	"time"
)

var _ schema.Tabler = (*Payment)(nil)
var _ schema.Tabler = (*PaymentAddress)(nil)

type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "pending"
	PaymentStatusConfirmed        PaymentStatus = "confirmed"
	PaymentStatusForwarding       PaymentStatus = "forwarding"
	PaymentStatusForwarded        PaymentStatus = "forwarded"
	PaymentStatusForwardingFailed PaymentStatus = "forwarding_failed"
	PaymentStatusExpired          PaymentStatus = "expired"
)

// PaymentTTL is how long a payment waits for funds before it expires.
const PaymentTTL = 15 * time.Minute

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusForwarded || s == PaymentStatusExpired
}

type Payment struct {
	ID                     string              `gorm:"primaryKey;size:36"`
	BusinessID             string              `gorm:"size:36;index"`
	Blockchain             string              `gorm:"size:16"`
	CryptoAmount           decimal.Decimal     `gorm:"type:numeric(38,18)"`
	PaymentAddress         string              `gorm:"size:128;index"`
	Status                 PaymentStatus       `gorm:"size:32;index:idx_payments_status_created,priority:1"`
	TxHash                 string              `gorm:"size:128"`
	ForwardTxHash          string              `gorm:"size:300"`
	// ForwardedTo lists the wallets, comma separated, whose transfer has been accepted by the network.
	ForwardedTo            string              `gorm:"size:300"`
	MerchantWalletAddress  string              `gorm:"size:128"`
	ReceivedAmount         decimal.NullDecimal `gorm:"type:numeric(38,18)"`
	MerchantReceivedAmount decimal.NullDecimal `gorm:"type:numeric(38,18)"`
	FeeAmount              decimal.NullDecimal `gorm:"type:numeric(38,18)"`
	ForwardError           string
	ConfirmedAt            *time.Time
	ForwardedAt            *time.Time
	ExpiresAt              time.Time `gorm:"index"`
	CreatedAt              time.Time `gorm:"index:idx_payments_status_created,priority:2"`
	UpdatedAt              time.Time
}

func (p *Payment) TableName() string {
	return "payments"
}

// Expired reports whether the payment window has closed at now.
func (p *Payment) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Received is the amount observed on chain at confirmation, falling back to the requested amount.
func (p *Payment) Received() decimal.Decimal {
	if p.ReceivedAmount.Valid {
		return p.ReceivedAmount.Decimal
	}
	return p.CryptoAmount
}

type PaymentAddress struct {
	PaymentID           string `gorm:"primaryKey;size:36"`
	Address             string `gorm:"size:128;uniqueIndex"`
	Cryptocurrency      string `gorm:"size:16"`
	EncryptedPrivateKey string
	MerchantWallet      string `gorm:"size:128"`
	CommissionWallet    string `gorm:"size:128"`
	CreatedAt           time.Time
}

// Forwarded reports whether a broadcast to wallet has already been accepted.
func (p *Payment) Forwarded(wallet string) bool {
	for _, w := range strings.Split(p.ForwardedTo, ",") {
		if w != "" && strings.EqualFold(w, wallet) {
			return true
		}
	}
	return false
}

func (a *PaymentAddress) TableName() string {
	return "payment_addresses"
}
