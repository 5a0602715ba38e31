package token

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/planpay/planpay-go/types"
	"github.com/planpay/planpay-go/utils"
)

// transferGasLimit ERC-20 transfer 的固定 gas 上限
const transferGasLimit = 100000

// erc20ABIJSON 最小化 ERC-20 ABI（只需 transfer）
const erc20ABIJSON = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var (
	erc20ABIOnce sync.Once
	erc20ABI     abi.ABI
	erc20ABIErr  error
)

func parsedERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// Submit 提交代币转账实现
//
// **流程**：
// 1. 注册表解析代币符号
// 2. 校验收款地址与金额
// 3. 检查签名账户手续费余额
// 4. 编码 transfer 调用、确定 nonce 与 gas 价格
// 5. 签名并提交，返回 pending 结果
//
// **注意**：
// - 所有链上调用都有超时上界，超时按网络错误处理
// - 任何一类失败都不重试，由调用方决定是否整体重来
func (s *tokenService) Submit(ctx context.Context, req *SubmitRequest) (*BroadcastResult, error) {
	// 1. 解析代币符号
	entry, err := s.registry.Resolve(req.Token)
	if err != nil {
		return nil, err
	}

	// 2. 校验收款地址
	to, err := utils.ValidateAddress(req.To)
	if err != nil {
		return nil, types.NewError(types.CodeInvalidAddress, "Invalid recipient address", err.Error(), err)
	}

	// 3. 校验金额并换算为最小单位
	amountUnits, err := utils.ToUnits(req.Amount, entry.Decimals)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "Invalid amount", err.Error(), err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 4. 检查手续费余额
	balance, err := s.client.BalanceAt(ctx, s.wallet.Address())
	if err != nil {
		return nil, networkError("query gas balance failed", err)
	}
	if balance.Sign() == 0 {
		return nil, types.NewError(types.CodeInsufficientGas, "Wallet has no balance for gas fees", "", nil)
	}

	// 5. 编码 transfer(to, amount) 调用数据
	parsed, err := parsedERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi failed: %w", err)
	}
	data, err := parsed.Pack("transfer", to, amountUnits)
	if err != nil {
		return nil, fmt.Errorf("encode transfer call failed: %w", err)
	}

	// 6. 确定 nonce（含 mempool 中待处理交易）
	nonce, err := s.client.PendingNonceAt(ctx, s.wallet.Address())
	if err != nil {
		return nil, networkError("query nonce failed", err)
	}

	// 7. 采用节点建议的 gas 价格
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, networkError("query gas price failed", err)
	}

	// 8. 组装并签名交易
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &entry.Contract,
		Value:    big.NewInt(0),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := s.wallet.SignTx(tx, s.chainID)
	if err != nil {
		return nil, types.NewError(types.CodeSigning, "Failed to sign transaction", err.Error(), err)
	}

	// 9. 提交到节点
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return nil, networkError("send transaction failed", err)
	}

	return &BroadcastResult{
		TxHash: signed.Hash().Hex(),
		Token:  entry.Symbol,
		To:     to.Hex(),
		Amount: req.Amount,
		Status: StatusPending,
	}, nil
}

// networkError 包装节点/RPC 失败（含超时）
func networkError(detail string, err error) error {
	return types.NewError(types.CodeNetwork, "Network request failed", fmt.Sprintf("%s: %v", detail, err), err)
}
