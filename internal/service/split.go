package service

import (
	"github.com/shopspring/decimal"
)

type Split struct {
	Merchant decimal.Decimal
	Fee      decimal.Decimal
}

// ComputeSplit rounds the platform fee to the chain's precision; the merchant gets the rest.
func ComputeSplit(received, feeRate decimal.Decimal, places int32) Split {
	fee := received.Mul(feeRate).Round(places)
	if fee.IsNegative() {
		fee = decimal.Zero
	}

	return Split{
		Merchant: received.Sub(fee),
		Fee:      fee,
	}
}
