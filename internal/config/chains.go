package config

import (
	"errors"
	"time"
)

var _ Defaults = (*ChainsConfig)(nil)
var _ Validator = (*ChainsConfig)(nil)

type UTXOChainConfig struct {
	APIURL   string `config:"api_url"`
	APIToken string `config:"api_token"`
	// FeeRate is in the smallest unit per virtual byte.
	FeeRate int64 `config:"fee_rate"`
	Dust    int64 `config:"dust"`
}

type EVMChainConfig struct {
	RPCURL        string `config:"rpc_url"`
	ChainID       int64  `config:"chain_id"`
	USDTContract  string `config:"usdt_contract"`
	USDCContract  string `config:"usdc_contract"`
	TokenGasLimit uint64 `config:"token_gas_limit"`
}

type SolanaChainConfig struct {
	RPCURL string `config:"rpc_url"`
}

type ChainsConfig struct {
	Bitcoin     UTXOChainConfig   `config:"btc"`
	Litecoin    UTXOChainConfig   `config:"ltc"`
	Dogecoin    UTXOChainConfig   `config:"doge"`
	Ethereum    EVMChainConfig    `config:"eth"`
	Polygon     EVMChainConfig    `config:"pol"`
	BSC         EVMChainConfig    `config:"bnb"`
	Solana      SolanaChainConfig `config:"sol"`
	DialTimeout time.Duration     `config:"dial_timeout"`
}

func (c ChainsConfig) Defaults() map[string]any {
	return map[string]any{
		"btc.api_url":  "https://blockstream.info/api",
		"btc.fee_rate": 10,
		"btc.dust":     546,

		"ltc.api_url":  "https://litecoinspace.org/api",
		"ltc.fee_rate": 10,
		"ltc.dust":     1000,

		"doge.api_url":  "https://api.blockcypher.com/v1/doge/main",
		"doge.fee_rate": 1000,
		"doge.dust":     1000000,

		"eth.chain_id":        1,
		"eth.usdt_contract":   "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		"eth.usdc_contract":   "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		"eth.token_gas_limit": 100000,

		"pol.chain_id":        137,
		"pol.usdt_contract":   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
		"pol.usdc_contract":   "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		"pol.token_gas_limit": 100000,

		"bnb.chain_id": 56,

		"sol.rpc_url": "https://api.mainnet-beta.solana.com",

		"dial_timeout": 15 * time.Second,
	}
}

func (c ChainsConfig) Validate() error {
	for _, u := range []UTXOChainConfig{c.Bitcoin, c.Litecoin, c.Dogecoin} {
		if u.APIURL != "" && u.FeeRate <= 0 {
			return errors.New("utxo chains need a positive fee_rate")
		}
	}

	for _, e := range []EVMChainConfig{c.Ethereum, c.Polygon, c.BSC} {
		if e.RPCURL != "" && e.ChainID <= 0 {
			return errors.New("evm chains need a chain_id")
		}
	}

	return nil
}
