package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Client 链节点客户端接口
//
// 只暴露 PlanPay 需要的窄接口，便于测试中替换为假实现
type Client interface {
	// ChainID 获取链 ID
	ChainID(ctx context.Context) (*big.Int, error)

	// BalanceAt 查询账户原生币余额（手续费余额）
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// PendingNonceAt 获取下一个序列号（含 mempool 中待处理交易）
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SuggestGasPrice 获取节点建议的 gas 价格
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SendTransaction 提交已签名交易
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error

	// TransactionByHash 按哈希查询交易（isPending 表示仍在 mempool）
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)

	// TransactionReceipt 按哈希查询回执（未上链时返回 ethereum.NotFound）
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)

	// Close 关闭连接
	Close() error
}

// Config 客户端配置
type Config struct {
	// RPCURL 节点 JSON-RPC 地址
	RPCURL string

	// Timeout 单次 RPC 调用超时
	Timeout time.Duration
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() *Config {
	return &Config{
		Timeout: 15 * time.Second,
	}
}

// NewClient 创建链节点客户端
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	return newEthClient(config)
}
