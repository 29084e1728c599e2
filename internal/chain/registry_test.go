package chain

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryUnsupported(t *testing.T) {
	r := NewRegistry(NewSolanaAdapter(&fakeSolanaRPC{}))

	if !r.Supports(SOL) || r.Supports(BTC) {
		t.Fatalf("unexpected support set %v", r.Chains())
	}

	a := r.Get("XMR")
	if a.Chain() != "XMR" {
		t.Fatalf("chain = %s", a.Chain())
	}

	ctx := context.Background()
	if _, err := a.GetBalance(ctx, "addr"); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("GetBalance: %v", err)
	}
	if _, err := a.Broadcast(ctx, nil); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("Broadcast: %v", err)
	}
	if _, err := a.SignTransfer(ctx, TransferRequest{}); !errors.Is(err, ErrUnsupportedChain) {
		t.Errorf("SignTransfer: %v", err)
	}
}

func TestParseAndDecimals(t *testing.T) {
	tests := []struct {
		in       string
		chain    Chain
		known    bool
		decimals int32
	}{
		{"btc", BTC, true, 8},
		{" ETH ", ETH, true, 18},
		{"usdc_pol", USDCPOL, true, 6},
		{"SOL", SOL, true, 9},
		{"XRP", "XRP", false, 8},
	}

	for _, tt := range tests {
		c, ok := Parse(tt.in)
		if c != tt.chain || ok != tt.known || c.Decimals() != tt.decimals {
			t.Errorf("Parse(%q) = %s %v %d", tt.in, c, ok, c.Decimals())
		}
	}
}
