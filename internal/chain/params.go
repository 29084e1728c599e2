package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// LitecoinMainNetParams carries the address prefixes btcutil needs for ltc1 and L/M addresses.
var LitecoinMainNetParams = chaincfg.Params{
	Name:             "litecoin-mainnet",
	Net:              wire.BitcoinNet(0xdbb6c0fb),
	PubKeyHashAddrID: 0x30,
	ScriptHashAddrID: 0x32,
	PrivateKeyID:     0xb0,
	Bech32HRPSegwit:  "ltc",
	HDPrivateKeyID:   [4]byte{0x01, 0x9d, 0x9c, 0xfe},
	HDPublicKeyID:    [4]byte{0x01, 0x9d, 0xa4, 0x62},
	HDCoinType:       2,
}

// DogecoinMainNetParams has no segwit prefix; deposit addresses are legacy P2PKH.
var DogecoinMainNetParams = chaincfg.Params{
	Name:             "dogecoin-mainnet",
	Net:              wire.BitcoinNet(0xc0c0c0c0),
	PubKeyHashAddrID: 0x1e,
	ScriptHashAddrID: 0x16,
	PrivateKeyID:     0x9e,
	HDPrivateKeyID:   [4]byte{0x02, 0xfa, 0xc3, 0x98},
	HDPublicKeyID:    [4]byte{0x02, 0xfa, 0xca, 0xfd},
	HDCoinType:       3,
}

func init() {
	// Segwit prefixes are only recognised for registered networks.
	_ = chaincfg.Register(&LitecoinMainNetParams)
	_ = chaincfg.Register(&DogecoinMainNetParams)
}
