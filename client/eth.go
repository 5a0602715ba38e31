package client

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ethRPCClient 基于 go-ethereum ethclient 的实现
type ethRPCClient struct {
	inner  *ethclient.Client
	config *Config
}

func newEthClient(config *Config) (Client, error) {
	inner, err := ethclient.Dial(config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s failed: %w", config.RPCURL, err)
	}
	return &ethRPCClient{inner: inner, config: config}, nil
}

func (c *ethRPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.ChainID(ctx)
}

func (c *ethRPCClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	// blockNumber 为 nil 表示最新区块
	return c.inner.BalanceAt(ctx, account, nil)
}

func (c *ethRPCClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.PendingNonceAt(ctx, account)
}

func (c *ethRPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.SuggestGasPrice(ctx)
}

func (c *ethRPCClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.SendTransaction(ctx, tx)
}

func (c *ethRPCClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.TransactionByHash(ctx, hash)
}

func (c *ethRPCClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.inner.TransactionReceipt(ctx, hash)
}

func (c *ethRPCClient) Close() error {
	c.inner.Close()
	return nil
}

// withTimeout 为单次 RPC 调用附加超时上界
func (c *ethRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}
