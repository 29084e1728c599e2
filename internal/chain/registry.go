package chain

import (
	"context"
	"fmt"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"sort"
)

type Registry struct {
	adapters map[Chain]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Chain]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Chain()] = a
	}
	return r
}

// Get never returns nil: chains without an adapter resolve to one that fails every operation.
func (r *Registry) Get(c Chain) Adapter {
	if a, ok := r.adapters[c]; ok {
		return a
	}
	return Unsupported(c)
}

func (r *Registry) Supports(c Chain) bool {
	_, ok := r.adapters[c]
	return ok
}

func (r *Registry) Chains() []Chain {
	chains := lo.Keys(r.adapters)
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains
}

type unsupported struct {
	chain Chain
}

func Unsupported(c Chain) Adapter {
	return unsupported{chain: c}
}

func (u unsupported) Chain() Chain {
	return u.chain
}

func (u unsupported) err() error {
	return fmt.Errorf("%w: %s", ErrUnsupportedChain, u.chain)
}

func (u unsupported) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, u.err()
}

func (u unsupported) Broadcast(context.Context, []byte) (string, error) {
	return "", u.err()
}

func (u unsupported) SignTransfer(context.Context, TransferRequest) ([]SignedTx, error) {
	return nil, u.err()
}
