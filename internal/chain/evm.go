package chain

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
	"math/big"
	"strings"
)

var _ Adapter = (*EVMAdapter)(nil)

const nativeTransferGas = 21000

var (
	balanceOfSelector = selector("balanceOf(address)")
	transferSelector  = selector("transfer(address,uint256)")
)

// EVMClient is the subset of ethclient.Client the adapter reads through.
type EVMClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type RawTransactionSender interface {
	SendRawTransaction(ctx context.Context, raw []byte) (string, error)
}

// RPCSender submits signed transactions with eth_sendRawTransaction.
type RPCSender struct {
	client *rpc.Client
}

func NewRPCSender(client *rpc.Client) *RPCSender {
	return &RPCSender{client: client}
}

func (s *RPCSender) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	var hash common.Hash
	if err := s.client.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

type EVMConfig struct {
	Chain   Chain
	ChainID *big.Int
	// Token is the ERC-20 contract; nil for the native coin.
	Token         *common.Address
	TokenGasLimit uint64
}

type EVMAdapter struct {
	cfg    EVMConfig
	client EVMClient
	sender RawTransactionSender
}

func NewEVMAdapter(cfg EVMConfig, client EVMClient, sender RawTransactionSender) *EVMAdapter {
	if cfg.TokenGasLimit == 0 {
		cfg.TokenGasLimit = 100000
	}
	return &EVMAdapter{cfg: cfg, client: client, sender: sender}
}

func (a *EVMAdapter) Chain() Chain {
	return a.cfg.Chain
}

func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("invalid address %q", address)
	}
	owner := common.HexToAddress(address)

	if a.cfg.Token == nil {
		wei, err := a.client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromBigInt(wei, -a.cfg.Chain.Decimals()), nil
	}

	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := a.client.CallContract(ctx, ethereum.CallMsg{To: a.cfg.Token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, err
	}
	if len(out) < 32 {
		return decimal.Zero, fmt.Errorf("balanceOf returned %d bytes", len(out))
	}

	return decimal.NewFromBigInt(new(big.Int).SetBytes(out[:32]), -a.cfg.Chain.Decimals()), nil
}

func (a *EVMAdapter) Broadcast(ctx context.Context, raw []byte) (string, error) {
	return a.sender.SendRawTransaction(ctx, raw)
}

// SignTransfer signs one transaction per output with consecutive nonces, fee payer first. For
// the native coin the gas of every transaction is taken from the fee payer's value.
func (a *EVMAdapter) SignTransfer(ctx context.Context, req TransferRequest) ([]SignedTx, error) {
	key, err := parseECDSAKey(req.Key)
	if err != nil {
		return nil, err
	}
	defer zeroECDSA(key)

	from := crypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(from.Hex(), req.From) {
		return nil, ErrKeyMismatch
	}

	if len(req.Outputs) == 0 {
		return nil, errors.New("transfer has no outputs")
	}

	outputs := orderPayerFirst(req.Outputs)
	places := a.cfg.Chain.Decimals()

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	type transfer struct {
		out   Output
		value *big.Int
	}

	var transfers []transfer
	for i, o := range outputs {
		if !common.IsHexAddress(o.Address) {
			return nil, fmt.Errorf("invalid destination %q", o.Address)
		}
		value := toUnits(o.Amount, places).BigInt()
		if i > 0 && value.Sign() <= 0 {
			continue
		}
		transfers = append(transfers, transfer{out: o, value: value})
	}

	if a.cfg.Token == nil {
		gas := new(big.Int).Mul(gasPrice, big.NewInt(int64(nativeTransferGas*len(transfers))))
		transfers[0].value.Sub(transfers[0].value, gas)
	}
	if transfers[0].value.Sign() <= 0 {
		return nil, errors.New("insufficient funds: transfer does not cover network fees")
	}

	signer := types.NewEIP155Signer(a.cfg.ChainID)
	signed := make([]SignedTx, 0, len(transfers))

	for i, t := range transfers {
		to := common.HexToAddress(t.out.Address)

		inner := &types.LegacyTx{
			Nonce:    nonce + uint64(i),
			GasPrice: gasPrice,
		}

		if a.cfg.Token == nil {
			inner.To = &to
			inner.Value = t.value
			inner.Gas = nativeTransferGas
		} else {
			inner.To = a.cfg.Token
			inner.Value = big.NewInt(0)
			inner.Gas = a.cfg.TokenGasLimit
			inner.Data = transferCalldata(to, t.value)
		}

		tx, err := types.SignTx(types.NewTx(inner), signer, key)
		if err != nil {
			return nil, fmt.Errorf("sign transfer %d: %w", i, err)
		}

		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}

		signed = append(signed, SignedTx{
			Raw:  raw,
			Hash: tx.Hash().Hex(),
			Outputs: []Output{{
				Address: t.out.Address,
				Amount:  decimal.NewFromBigInt(t.value, -places),
				PaysFee: t.out.PaysFee,
			}},
		})
	}

	return signed, nil
}

func transferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func orderPayerFirst(outputs []Output) []Output {
	ordered := make([]Output, 0, len(outputs))
	for _, o := range outputs {
		if o.PaysFee {
			ordered = append(ordered, o)
		}
	}
	for _, o := range outputs {
		if !o.PaysFee {
			ordered = append(ordered, o)
		}
	}
	if len(ordered) > 0 && !ordered[0].PaysFee {
		ordered[0].PaysFee = true
	}
	return ordered
}

func parseECDSAKey(key []byte) (*ecdsa.PrivateKey, error) {
	hexKey := bytes.TrimPrefix(bytes.TrimSpace(key), []byte("0x"))
	if len(hexKey) != 64 {
		return nil, errors.New("private key must be 32 bytes of hex")
	}

	raw := make([]byte, 32)
	defer wipeBytes(raw)

	if _, err := hex.Decode(raw, hexKey); err != nil {
		return nil, errors.New("private key must be 32 bytes of hex")
	}

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return priv, nil
}

func zeroECDSA(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	words := key.D.Bits()
	for i := range words {
		words[i] = 0
	}
}
