package token

import (
	"context"
	"math/big"
	"time"

	"github.com/planpay/planpay-go/client"
	"github.com/planpay/planpay-go/wallet"
)

// 交易状态常量
const (
	StatusPending     = "pending"
	StatusMinedOK     = "mined_success"
	StatusMinedFailed = "mined_failed"
	StatusNotFound    = "not_found"
	StatusError       = "error"
)

// Service Token 业务服务接口
type Service interface {
	// Submit 构建、签名并提交一笔代币转账
	//
	// 成功返回即表示交易已被节点接收（status=pending）；
	// 上链结果不在此处等待，调用方可用 QueryStatus 轮询
	Submit(ctx context.Context, req *SubmitRequest) (*BroadcastResult, error)

	// QueryStatus 查询交易的链上状态（只读，不会被自动调用）
	QueryStatus(ctx context.Context, txHash string) (*TxStatus, error)
}

// SubmitRequest 转账提交请求
type SubmitRequest struct {
	// Token 代币符号（USDT / USDC）
	Token string

	// To 收款地址（0x 十六进制，支持 EIP-55 校验和）
	To string

	// Amount 十进制金额字符串
	Amount string
}

// BroadcastResult 转账提交结果
//
// 提交成功后生成一次，之后不再变更；最终上链结果不属于本结构
type BroadcastResult struct {
	// TxHash 交易哈希
	TxHash string

	// Token 代币符号
	Token string

	// To 收款地址
	To string

	// Amount 十进制金额
	Amount string

	// Status 恒为 "pending"
	Status string
}

// TxStatus 交易链上状态
type TxStatus struct {
	// Status "pending" | "mined_success" | "mined_failed" | "not_found" | "error"
	Status string

	// BlockNumber 区块高度（已上链时）
	BlockNumber *uint64

	// GasUsed 实际消耗的 gas（已上链时）
	GasUsed uint64

	// Err 查询失败时的错误描述
	Err string
}

// tokenService Token 服务实现
type tokenService struct {
	client   client.Client
	registry *Registry
	wallet   wallet.Wallet
	chainID  *big.Int
	timeout  time.Duration
	retry    *client.RetryConfig
}

// NewService 创建 Token 服务
func NewService(c client.Client, registry *Registry, w wallet.Wallet, chainID *big.Int) Service {
	return &tokenService{
		client:   c,
		registry: registry,
		wallet:   w,
		chainID:  chainID,
		timeout:  15 * time.Second,
		retry:    client.DefaultRetryConfig(),
	}
}
