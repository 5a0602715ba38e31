package services

import "time"

// Config 统一的业务服务配置结构，用于为各个具体 Service 提供节点地址、代币合约等运行时参数。
//
// **设计目的**：
// - 避免在各个 service 内部硬编码合约地址 / 链参数（注册表在进程启动时构造一次并注入）
// - 保持与节点的解耦：链交互只经过 client.Client，业务配置由使用方提供
//
// **说明**：
// - Tokens 的键为代币符号（不区分大小写），值为合约地址与精度
// - PlansFile 为每个用户一条记录的 JSON 文件，布局对外固定
type Config struct {
	// RPCURL 节点 JSON-RPC 地址
	RPCURL string

	// ChainID 链 ID（主网为 1）
	ChainID int64

	// Tokens 代币符号 → 合约配置
	Tokens map[string]TokenConfig

	// PlansFile 计划持久化文件路径
	PlansFile string

	// WebhookURL 交易通知 Webhook 地址（为空时关闭通知）
	WebhookURL string

	// RequestTimeout 单次链上调用超时
	RequestTimeout time.Duration
}

// TokenConfig 单个代币的合约配置
type TokenConfig struct {
	// Contract 合约地址（0x 十六进制）
	Contract string

	// Decimals 代币精度
	Decimals uint8
}

// DefaultConfig 返回主网默认配置（USDT / USDC）
func DefaultConfig() *Config {
	return &Config{
		ChainID: 1,
		Tokens: map[string]TokenConfig{
			"USDT": {Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
			"USDC": {Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		},
		PlansFile:      "./data/plans.json",
		RequestTimeout: 15 * time.Second,
	}
}
