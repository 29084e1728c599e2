package chain

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"math/big"
)

var _ Adapter = (*SolanaAdapter)(nil)

const (
	lamportsPerSignature = 5000
	systemTransferIndex  = 2
)

var systemProgramID = make([]byte, 32)

// JSONRPCCaller is satisfied by go-ethereum's rpc.Client, which speaks plain JSON-RPC 2.0.
type JSONRPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type SolanaAdapter struct {
	rpc JSONRPCCaller
}

func NewSolanaAdapter(rpc JSONRPCCaller) *SolanaAdapter {
	return &SolanaAdapter{rpc: rpc}
}

func (a *SolanaAdapter) Chain() Chain {
	return SOL
}

type solanaBalance struct {
	Value uint64 `json:"value"`
}

type solanaBlockhash struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

func (a *SolanaAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var res solanaBalance
	if err := a.rpc.CallContext(ctx, &res, "getBalance", address, map[string]string{"commitment": "confirmed"}); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(res.Value), -SOL.Decimals()), nil
}

func (a *SolanaAdapter) Broadcast(ctx context.Context, raw []byte) (string, error) {
	var signature string
	err := a.rpc.CallContext(ctx, &signature, "sendTransaction", base64.StdEncoding.EncodeToString(raw), map[string]string{
		"encoding":            "base64",
		"preflightCommitment": "confirmed",
	})
	if err != nil {
		return "", err
	}
	return signature, nil
}

// SignTransfer builds a single legacy transaction with one system transfer per output. The
// signature fee is taken from the fee payer's amount.
func (a *SolanaAdapter) SignTransfer(ctx context.Context, req TransferRequest) ([]SignedTx, error) {
	if len(req.Outputs) == 0 {
		return nil, errors.New("transfer has no outputs")
	}

	priv, err := parseSolanaKey(req.Key)
	if err != nil {
		return nil, err
	}
	defer wipeBytes(priv)

	from := priv.Public().(ed25519.PublicKey)
	if base58.Encode(from) != req.From {
		return nil, ErrKeyMismatch
	}

	var bh solanaBlockhash
	if err := a.rpc.CallContext(ctx, &bh, "getLatestBlockhash", map[string]string{"commitment": "finalized"}); err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	blockhash, err := base58.Decode(bh.Value.Blockhash)
	if err != nil || len(blockhash) != 32 {
		return nil, fmt.Errorf("invalid blockhash %q", bh.Value.Blockhash)
	}

	var transfers []solanaTransfer
	for i, o := range orderPayerFirst(req.Outputs) {
		to, err := base58.Decode(o.Address)
		if err != nil || len(to) != 32 {
			return nil, fmt.Errorf("invalid destination %q", o.Address)
		}

		lamports := toUnits(o.Amount, SOL.Decimals()).IntPart()
		if i == 0 {
			lamports -= lamportsPerSignature
		}
		if i > 0 && lamports <= 0 {
			continue
		}
		transfers = append(transfers, solanaTransfer{to: to, lamports: lamports, out: o})
	}

	if transfers[0].lamports <= 0 {
		return nil, errors.New("insufficient funds: transfer does not cover the signature fee")
	}

	message := buildTransferMessage(from, transfers, blockhash)
	signature := ed25519.Sign(priv, message)

	raw := appendCompactU16(nil, 1)
	raw = append(raw, signature...)
	raw = append(raw, message...)

	realized := make([]Output, 0, len(transfers))
	for _, t := range transfers {
		realized = append(realized, Output{
			Address: t.out.Address,
			Amount:  decimal.New(t.lamports, -SOL.Decimals()),
			PaysFee: t.out.PaysFee,
		})
	}

	return []SignedTx{{
		Raw:     raw,
		Hash:    base58.Encode(signature),
		Outputs: realized,
	}}, nil
}

type solanaTransfer struct {
	to       []byte
	lamports int64
	out      Output
}

// buildTransferMessage lays out a legacy message: header, account keys (signer first, the system
// program last and read-only), recent blockhash, then one transfer instruction per destination.
func buildTransferMessage(from []byte, transfers []solanaTransfer, blockhash []byte) []byte {
	keys := [][]byte{from}
	index := func(key []byte) byte {
		for i, k := range keys {
			if bytes.Equal(k, key) {
				return byte(i)
			}
		}
		keys = append(keys, key)
		return byte(len(keys) - 1)
	}

	type instruction struct {
		to       byte
		lamports int64
	}
	instructions := make([]instruction, 0, len(transfers))
	for _, t := range transfers {
		instructions = append(instructions, instruction{to: index(t.to), lamports: t.lamports})
	}
	program := index(systemProgramID)

	msg := []byte{1, 0, 1}
	msg = appendCompactU16(msg, len(keys))
	for _, k := range keys {
		msg = append(msg, k...)
	}
	msg = append(msg, blockhash...)

	msg = appendCompactU16(msg, len(instructions))
	for _, ins := range instructions {
		data := make([]byte, 12)
		binary.LittleEndian.PutUint32(data[:4], systemTransferIndex)
		binary.LittleEndian.PutUint64(data[4:], uint64(ins.lamports))

		msg = append(msg, program)
		msg = appendCompactU16(msg, 2)
		msg = append(msg, 0, ins.to)
		msg = appendCompactU16(msg, len(data))
		msg = append(msg, data...)
	}

	return msg
}

func appendCompactU16(b []byte, n int) []byte {
	for {
		elem := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

// parseSolanaKey accepts a base58 64 byte keypair, a base58 32 byte seed or a hex seed.
func parseSolanaKey(key []byte) (ed25519.PrivateKey, error) {
	key = bytes.TrimSpace(key)

	if len(key) == 64 {
		seed := make([]byte, 32)
		defer wipeBytes(seed)
		if _, err := hex.Decode(seed, key); err == nil {
			return ed25519.NewKeyFromSeed(seed), nil
		}
	}

	raw, err := base58.Decode(string(key))
	if err != nil {
		return nil, errors.New("private key is neither base58 nor hex")
	}
	defer wipeBytes(raw)

	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize]), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("private key has %d bytes", len(raw))
	}
}
