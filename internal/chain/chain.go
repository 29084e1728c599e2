// Package chain holds one adapter per blockchain family behind a closed registry. Adapters
// normalise amounts to human units at their boundary.
package chain

import (
	"context"
	"errors"
	"github.com/shopspring/decimal"
	"strings"
)

type Chain string

const (
	BTC     Chain = "BTC"
	LTC     Chain = "LTC"
	DOGE    Chain = "DOGE"
	ETH     Chain = "ETH"
	POL     Chain = "POL"
	BNB     Chain = "BNB"
	SOL     Chain = "SOL"
	USDTETH Chain = "USDT_ETH"
	USDCETH Chain = "USDC_ETH"
	USDTPOL Chain = "USDT_POL"
	USDCPOL Chain = "USDC_POL"
)

var ErrUnsupportedChain = errors.New("unsupported chain")

var decimals = map[Chain]int32{
	BTC:     8,
	LTC:     8,
	DOGE:    8,
	ETH:     18,
	POL:     18,
	BNB:     18,
	SOL:     9,
	USDTETH: 6,
	USDCETH: 6,
	USDTPOL: 6,
	USDCPOL: 6,
}

// Known lists every chain the engine has an adapter family for.
func Known() []Chain {
	return []Chain{BTC, LTC, DOGE, ETH, POL, BNB, SOL, USDTETH, USDCETH, USDTPOL, USDCPOL}
}

// Parse normalises a chain name. Unknown names are returned as-is with ok false.
func Parse(s string) (Chain, bool) {
	c := Chain(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := decimals[c]
	return c, ok
}

// Decimals is the number of fractional digits of the chain's unit. Unknown chains use 8.
func (c Chain) Decimals() int32 {
	if d, ok := decimals[c]; ok {
		return d
	}
	return 8
}

func (c Chain) String() string {
	return string(c)
}

// Output is one destination of a forwarding transfer.
type Output struct {
	Address string
	Amount  decimal.Decimal

	// PaysFee marks the output the network fee is deducted from.
	PaysFee bool
}

type TransferRequest struct {
	From string
	// Key is the decrypted private key. Signers must not retain it.
	Key     []byte
	Outputs []Output
}

// SignedTx is one signed transaction ready for broadcast, with the amounts it actually moves.
type SignedTx struct {
	Raw     []byte
	Hash    string
	Outputs []Output
	// Inputs are the funding transaction ids, when the chain exposes them.
	Inputs []string
}

type BalanceChecker interface {
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, raw []byte) (string, error)
}

type Signer interface {
	SignTransfer(ctx context.Context, req TransferRequest) ([]SignedTx, error)
}

type Adapter interface {
	BalanceChecker
	Broadcaster
	Signer
	Chain() Chain
}

// toUnits converts a human amount to the chain's smallest unit, truncating extra precision.
func toUnits(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Shift(places).Truncate(0)
}
