package webhook

import (
	"github.com/google/uuid"
	"time"
)

type EventType string

const (
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentExpired   EventType = "payment.expired"
	EventPaymentForwarded EventType = "payment.forwarded"
	EventPaymentFailed    EventType = "payment.failed"
)

// isoMillis matches the millisecond ISO-8601 timestamps merchants already parse.
const isoMillis = "2006-01-02T15:04:05.000Z"

type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Data       any       `json:"data"`
	CreatedAt  string    `json:"created_at"`
	BusinessID string    `json:"business_id"`
}

func NewEvent(eventType EventType, businessID string, data any, now time.Time) *Event {
	return &Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       eventType,
		Data:       data,
		CreatedAt:  now.UTC().Format(isoMillis),
		BusinessID: businessID,
	}
}

// PaymentData is the data object of every payment.* event. Amounts are decimal strings.
type PaymentData struct {
	PaymentID             string `json:"payment_id"`
	Status                string `json:"status"`
	Blockchain            string `json:"blockchain"`
	Amount                string `json:"amount_crypto"`
	PaymentAddress        string `json:"payment_address"`
	ReceivedAmount        string `json:"received_amount,omitempty"`
	TxHash                string `json:"tx_hash,omitempty"`
	ForwardTxHash         string `json:"forward_tx_hash,omitempty"`
	MerchantAmount        string `json:"merchant_amount,omitempty"`
	FeeAmount             string `json:"fee_amount,omitempty"`
	Error                 string `json:"error,omitempty"`
	MerchantWalletAddress string `json:"merchant_wallet_address,omitempty"`
	Test                  bool   `json:"test,omitempty"`
}
