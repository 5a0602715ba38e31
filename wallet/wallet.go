package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet 签名钱包接口
type Wallet interface {
	// Address 获取钱包地址
	Address() common.Address

	// SignTx 按链 ID 签名交易
	SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)

	// PrivateKey 获取私钥（谨慎使用）
	PrivateKey() *ecdsa.PrivateKey
}

// keyWallet 基于单个 secp256k1 私钥的钱包实现
type keyWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	createdAt  time.Time
}

// NewWallet 创建新钱包（随机私钥，用于测试和开发）
func NewWallet() (Wallet, error) {
	privateKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	return &keyWallet{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
		createdAt:  time.Now(),
	}, nil
}

// NewWalletFromPrivateKey 从十六进制私钥创建钱包
func NewWalletFromPrivateKey(privateKeyHex string) (Wallet, error) {
	// 移除0x前缀（如果有）
	privateKeyHex = hexRemovePrefix(privateKeyHex)

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	// 验证私钥长度（ECDSA私钥应该是32字节）
	if len(privateKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privateKeyBytes))
	}

	privateKey, err := ethcrypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 private key failed: %w", err)
	}

	return &keyWallet{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
		createdAt:  time.Now(),
	}, nil
}

// Address 获取钱包地址
func (w *keyWallet) Address() common.Address {
	return w.address
}

// SignTx 签名交易
//
// 使用与链 ID 匹配的最新签名器（EIP-155 及之后的交易类型均可处理）
func (w *keyWallet) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id: %v", chainID)
	}

	signer := ethtypes.LatestSignerForChainID(chainID)
	signed, err := ethtypes.SignTx(tx, signer, w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction failed: %w", err)
	}
	return signed, nil
}

// PrivateKey 获取私钥
func (w *keyWallet) PrivateKey() *ecdsa.PrivateKey {
	return w.privateKey
}

// hexRemovePrefix 移除十六进制字符串的0x前缀
func hexRemovePrefix(hexStr string) string {
	if len(hexStr) >= 2 && (hexStr[:2] == "0x" || hexStr[:2] == "0X") {
		return hexStr[2:]
	}
	return hexStr
}
