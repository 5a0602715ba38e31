package token

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/planpay/planpay-go/client"
	"github.com/planpay/planpay-go/types"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// QueryStatus 查询交易状态实现
//
// **流程**：
// 1. 先查回执：已上链则按回执状态返回成功/失败
// 2. 无回执再查交易本身：仍能查到则为 pending
// 3. 都查不到为 not_found
//
// 查询属于只读操作，允许按重试配置对瞬时网络故障重试
func (s *tokenService) QueryStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	if !txHashPattern.MatchString(txHash) {
		return nil, types.NewError(types.CodeValidation, "Invalid transaction hash", fmt.Sprintf("got %q", txHash), nil)
	}
	hash := common.HexToHash(txHash)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 1. 查询回执
	var receipt *ethtypes.Receipt
	err := client.Do(ctx, s.retry, func() error {
		var innerErr error
		receipt, innerErr = s.client.TransactionReceipt(ctx, hash)
		if errors.Is(innerErr, ethereum.NotFound) {
			// 未上链不是故障，不重试
			receipt = nil
			return nil
		}
		return innerErr
	})
	if err != nil {
		return &TxStatus{Status: StatusError, Err: err.Error()}, nil
	}

	if receipt != nil {
		status := StatusMinedFailed
		if receipt.Status == ethtypes.ReceiptStatusSuccessful {
			status = StatusMinedOK
		}
		blockNumber := receipt.BlockNumber.Uint64()
		return &TxStatus{
			Status:      status,
			BlockNumber: &blockNumber,
			GasUsed:     receipt.GasUsed,
		}, nil
	}

	// 2. 无回执：检查交易是否仍在节点侧
	var found bool
	err = client.Do(ctx, s.retry, func() error {
		_, _, innerErr := s.client.TransactionByHash(ctx, hash)
		if errors.Is(innerErr, ethereum.NotFound) {
			found = false
			return nil
		}
		if innerErr != nil {
			return innerErr
		}
		found = true
		return nil
	})
	if err != nil {
		return &TxStatus{Status: StatusError, Err: err.Error()}, nil
	}

	if found {
		return &TxStatus{Status: StatusPending}, nil
	}
	return &TxStatus{Status: StatusNotFound}, nil
}
