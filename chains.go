package engine

import (
	"context"
	"fmt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/client/blockcypher"
	"go.coinpayportal.com/engine/internal/client/esplora"
	"go.coinpayportal.com/engine/internal/config"
	"go.uber.org/zap"
	"math/big"
)

type tokenContract struct {
	chain    chain.Chain
	contract string
}

// dialChains builds one adapter per configured chain. Chains without an endpoint stay unsupported.
// The returned close function releases every RPC connection.
func dialChains(ctx context.Context, cfg config.ChainsConfig, logger *zap.Logger) (*chain.Registry, func(), error) {
	logger = logger.Named("chains")

	var (
		adapters []chain.Adapter
		clients  []*rpc.Client
	)
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	utxo := []struct {
		chain  chain.Chain
		cfg    config.UTXOChainConfig
		params *chaincfg.Params
	}{
		{chain.BTC, cfg.Bitcoin, &chaincfg.MainNetParams},
		{chain.LTC, cfg.Litecoin, &chain.LitecoinMainNetParams},
		{chain.DOGE, cfg.Dogecoin, &chain.DogecoinMainNetParams},
	}
	for _, u := range utxo {
		if u.cfg.APIURL == "" {
			continue
		}

		var source chain.UTXOSource
		if u.chain == chain.DOGE {
			source = chain.BlockCypherSource(blockcypher.NewClient(blockcypher.ClientConfig{
				BaseURL:        u.cfg.APIURL,
				Token:          u.cfg.APIToken,
				RequestTimeout: cfg.DialTimeout,
			}, logger))
		} else {
			source = chain.EsploraSource(esplora.NewClient(esplora.ClientConfig{
				BaseURL:        u.cfg.APIURL,
				RequestTimeout: cfg.DialTimeout,
			}, logger))
		}

		adapters = append(adapters, chain.NewUTXOAdapter(chain.UTXOConfig{
			Chain:   u.chain,
			Params:  u.params,
			FeeRate: u.cfg.FeeRate,
			Dust:    u.cfg.Dust,
		}, source))
	}

	evm := []struct {
		chain  chain.Chain
		cfg    config.EVMChainConfig
		tokens []tokenContract
	}{
		{chain.ETH, cfg.Ethereum, []tokenContract{{chain.USDTETH, cfg.Ethereum.USDTContract}, {chain.USDCETH, cfg.Ethereum.USDCContract}}},
		{chain.POL, cfg.Polygon, []tokenContract{{chain.USDTPOL, cfg.Polygon.USDTContract}, {chain.USDCPOL, cfg.Polygon.USDCContract}}},
		{chain.BNB, cfg.BSC, nil},
	}
	for _, e := range evm {
		if e.cfg.RPCURL == "" {
			continue
		}

		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		rpcClient, err := rpc.DialContext(dialCtx, e.cfg.RPCURL)
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial %s rpc: %w", e.chain, err)
		}
		clients = append(clients, rpcClient)

		client := ethclient.NewClient(rpcClient)
		sender := chain.NewRPCSender(rpcClient)
		chainID := big.NewInt(e.cfg.ChainID)

		adapters = append(adapters, chain.NewEVMAdapter(chain.EVMConfig{Chain: e.chain, ChainID: chainID}, client, sender))

		for _, t := range e.tokens {
			if !common.IsHexAddress(t.contract) {
				continue
			}
			contract := common.HexToAddress(t.contract)
			adapters = append(adapters, chain.NewEVMAdapter(chain.EVMConfig{
				Chain:         t.chain,
				ChainID:       chainID,
				Token:         &contract,
				TokenGasLimit: e.cfg.TokenGasLimit,
			}, client, sender))
		}
	}

	if cfg.Solana.RPCURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		rpcClient, err := rpc.DialContext(dialCtx, cfg.Solana.RPCURL)
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial %s rpc: %w", chain.SOL, err)
		}
		clients = append(clients, rpcClient)

		adapters = append(adapters, chain.NewSolanaAdapter(rpcClient))
	}

	registry := chain.NewRegistry(adapters...)
	logger.Info("chain adapters ready", zap.Stringers("chains", registry.Chains()))

	return registry, closeAll, nil
}
