package chain

import (
	"context"
	"go.coinpayportal.com/engine/internal/client/blockcypher"
	"go.coinpayportal.com/engine/internal/client/esplora"
)

type UTXO struct {
	TxID  string
	Vout  uint32
	Value int64
}

// UTXOSource is the explorer a UTXO adapter reads from and broadcasts through. Values are in the
// chain's smallest unit.
type UTXOSource interface {
	Balance(ctx context.Context, address string) (int64, error)
	UTXOs(ctx context.Context, address string) ([]UTXO, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)
}

type esploraSource struct {
	client *esplora.Client
}

func EsploraSource(client *esplora.Client) UTXOSource {
	return esploraSource{client: client}
}

func (s esploraSource) Balance(ctx context.Context, address string) (int64, error) {
	info, err := s.client.GetAddress(ctx, address)
	if err != nil {
		return 0, err
	}
	return info.Balance(), nil
}

func (s esploraSource) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	utxos, err := s.client.GetUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}

	out := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		out = append(out, UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value})
	}
	return out, nil
}

func (s esploraSource) Broadcast(ctx context.Context, rawHex string) (string, error) {
	return s.client.Broadcast(ctx, rawHex)
}

type blockCypherSource struct {
	client *blockcypher.Client
}

func BlockCypherSource(client *blockcypher.Client) UTXOSource {
	return blockCypherSource{client: client}
}

func (s blockCypherSource) Balance(ctx context.Context, address string) (int64, error) {
	bal, err := s.client.GetBalance(ctx, address)
	if err != nil {
		return 0, err
	}
	return bal.FinalBalance, nil
}

func (s blockCypherSource) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	refs, err := s.client.GetUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}

	out := make([]UTXO, 0, len(refs))
	for _, r := range refs {
		out = append(out, UTXO{TxID: r.TxHash, Vout: r.TxOutputN, Value: r.Value})
	}
	return out, nil
}

func (s blockCypherSource) Broadcast(ctx context.Context, rawHex string) (string, error) {
	return s.client.PushTx(ctx, rawHex)
}
