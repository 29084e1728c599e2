package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
)

var _ Adapter = (*UTXOAdapter)(nil)

var ErrKeyMismatch = errors.New("private key does not match deposit address")

type UTXOConfig struct {
	Chain  Chain
	Params *chaincfg.Params
	// FeeRate is in the smallest unit per virtual byte.
	FeeRate int64
	Dust    int64
}

// UTXOAdapter serves BTC, LTC and DOGE. Forwarding spends every UTXO of the deposit address in
// one transaction.
type UTXOAdapter struct {
	cfg    UTXOConfig
	source UTXOSource
}

func NewUTXOAdapter(cfg UTXOConfig, source UTXOSource) *UTXOAdapter {
	return &UTXOAdapter{cfg: cfg, source: source}
}

func (a *UTXOAdapter) Chain() Chain {
	return a.cfg.Chain
}

func (a *UTXOAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	sats, err := a.source.Balance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(sats, -a.cfg.Chain.Decimals()), nil
}

func (a *UTXOAdapter) Broadcast(ctx context.Context, raw []byte) (string, error) {
	return a.source.Broadcast(ctx, hex.EncodeToString(raw))
}

type plannedOutput struct {
	Output
	units int64
}

func (a *UTXOAdapter) SignTransfer(ctx context.Context, req TransferRequest) ([]SignedTx, error) {
	from, err := btcutil.DecodeAddress(req.From, a.cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("decode deposit address: %w", err)
	}

	var segwit bool
	switch from.(type) {
	case *btcutil.AddressWitnessPubKeyHash:
		segwit = true
	case *btcutil.AddressPubKeyHash:
	default:
		return nil, fmt.Errorf("deposit address type %T cannot be signed", from)
	}

	priv, compressed, err := parseUTXOKey(req.Key, a.cfg.Params)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	pub := priv.PubKey().SerializeUncompressed()
	if compressed {
		pub = priv.PubKey().SerializeCompressed()
	}
	if !bytes.Equal(btcutil.Hash160(pub), from.ScriptAddress()) {
		return nil, ErrKeyMismatch
	}

	utxos, err := a.source.UTXOs(ctx, req.From)
	if err != nil {
		return nil, fmt.Errorf("list utxos: %w", err)
	}
	if len(utxos) == 0 {
		return nil, errors.New("insufficient funds: deposit address has no spendable outputs")
	}

	pkScript, err := txscript.PayToAddrScript(from)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	inputs := make([]string, 0, len(utxos))

	var total int64
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, fmt.Errorf("utxo %s: %w", u.TxID, err)
		}

		op := wire.NewOutPoint(hash, u.Vout)
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		fetcher.AddPrevOut(*op, wire.NewTxOut(u.Value, pkScript))

		total += u.Value
		inputs = append(inputs, u.TxID)
	}

	planned, err := a.plan(req.Outputs, total, len(utxos), segwit)
	if err != nil {
		return nil, err
	}

	realized := make([]Output, 0, len(planned))
	for _, o := range planned {
		to, err := btcutil.DecodeAddress(o.Address, a.cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("decode destination %s: %w", o.Address, err)
		}

		script, err := txscript.PayToAddrScript(to)
		if err != nil {
			return nil, err
		}

		tx.AddTxOut(wire.NewTxOut(o.units, script))
		realized = append(realized, Output{
			Address: o.Address,
			Amount:  decimal.New(o.units, -a.cfg.Chain.Decimals()),
			PaysFee: o.PaysFee,
		})
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, u := range utxos {
		if segwit {
			wit, err := txscript.WitnessSignature(tx, sigHashes, i, u.Value, pkScript, txscript.SigHashAll, priv, true)
			if err != nil {
				return nil, fmt.Errorf("sign input %d: %w", i, err)
			}
			tx.TxIn[i].Witness = wit
			continue
		}

		sig, err := txscript.SignatureScript(tx, i, pkScript, txscript.SigHashAll, priv, compressed)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sig
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return []SignedTx{{
		Raw:     buf.Bytes(),
		Hash:    tx.TxHash().String(),
		Outputs: realized,
		Inputs:  inputs,
	}}, nil
}

// plan converts requested outputs to units. Outputs other than the fee payer that fall below dust
// are folded into the fee payer. The fee payer receives whatever the inputs hold beyond the other
// outputs, minus the network fee.
func (a *UTXOAdapter) plan(outputs []Output, total int64, inputs int, segwit bool) ([]plannedOutput, error) {
	if len(outputs) == 0 {
		return nil, errors.New("transfer has no outputs")
	}

	payer := 0
	for i, o := range outputs {
		if o.PaysFee {
			payer = i
			break
		}
	}

	planned := []plannedOutput{{Output: outputs[payer]}}
	planned[0].PaysFee = true

	var others int64
	for i, o := range outputs {
		if i == payer {
			continue
		}
		units := toUnits(o.Amount, a.cfg.Chain.Decimals()).IntPart()
		if units < a.cfg.Dust {
			continue
		}
		planned = append(planned, plannedOutput{Output: o, units: units})
		others += units
	}

	networkFee := estimateVSize(inputs, len(planned), segwit) * a.cfg.FeeRate
	payerUnits := total - others - networkFee
	if payerUnits < a.cfg.Dust {
		return nil, fmt.Errorf("insufficient funds: %d available, %d to other outputs, %d network fee", total, others, networkFee)
	}
	planned[0].units = payerUnits

	return planned, nil
}

func estimateVSize(inputs, outputs int, segwit bool) int64 {
	if segwit {
		return int64(11 + inputs*68 + outputs*34)
	}
	return int64(10 + inputs*148 + outputs*34)
}

// parseUTXOKey accepts a 32 byte hex key or WIF. Hex keys are treated as compressed and decoded
// into a buffer that is wiped. btcutil.DecodeWIF only takes a string, so a WIF key leaves an
// immutable copy on the heap that cannot be zeroed; deposit keys should be stored as hex.
func parseUTXOKey(key []byte, params *chaincfg.Params) (*btcec.PrivateKey, bool, error) {
	key = bytes.TrimSpace(key)

	if hexKey := bytes.TrimPrefix(key, []byte("0x")); len(hexKey) == 64 {
		raw := make([]byte, 32)
		defer wipeBytes(raw)

		if _, err := hex.Decode(raw, hexKey); err == nil {
			priv, _ := btcec.PrivKeyFromBytes(raw)
			return priv, true, nil
		}
	}

	wif, err := btcutil.DecodeWIF(string(key))
	if err != nil {
		return nil, false, errors.New("private key is neither WIF nor hex")
	}
	if !wif.IsForNet(params) {
		return nil, false, errors.New("private key belongs to another network")
	}

	return wif.PrivKey, wif.CompressPubKey, nil
}

func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
