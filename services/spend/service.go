package spend

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/planpay/planpay-go/services/notify"
	"github.com/planpay/planpay-go/services/plan"
	"github.com/planpay/planpay-go/services/token"
	"github.com/planpay/planpay-go/types"
	"github.com/planpay/planpay-go/utils"
)

// Service 受配额约束的转账编排服务
type Service interface {
	// Spend 执行一次受计划约束的转账
	//
	// 校验 → 授权预扣 → 广播 → （失败时归还预扣）→ 通知
	Spend(ctx context.Context, req *Request) (*token.BroadcastResult, error)
}

// Request 转账请求
type Request struct {
	// Principal 发起转账的用户标识
	Principal string

	// Token 代币符号
	Token string

	// To 收款地址
	To string

	// Amount 十进制金额字符串
	Amount string
}

// service 编排实现
type service struct {
	plans         *plan.Store
	tokens        token.Service
	notifier      notify.Notifier
	notifyTimeout time.Duration
}

// NewService 创建编排服务；notifier 可为 nil（关闭通知）
func NewService(plans *plan.Store, tokens token.Service, notifier notify.Notifier) Service {
	return &service{
		plans:         plans,
		tokens:        tokens,
		notifier:      notifier,
		notifyTimeout: 10 * time.Second,
	}
}

// Spend 执行受配额约束的转账
//
// **两阶段约定**：
// 1. 用户锁内判定并预扣一次配额（AuthorizeAndConsume），随即释放锁
// 2. 不持有任何锁进行广播
// 3. 广播失败则归还预扣（Release），成功则预扣即为最终扣减
func (s *service) Spend(ctx context.Context, req *Request) (*token.BroadcastResult, error) {
	if req == nil {
		return nil, types.NewError(types.CodeValidation, "Request is required", "", nil)
	}

	// 1. 入参校验（任何状态变更之前）
	if _, err := utils.ValidateAddress(req.To); err != nil {
		return nil, types.NewError(types.CodeInvalidAddress, "Invalid recipient address", err.Error(), err)
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "Invalid amount", err.Error(), err)
	}

	// 2. 授权并预扣一次配额
	decision, err := s.plans.AuthorizeAndConsume(req.Principal, amount)
	if err != nil {
		return nil, err
	}
	if !decision.Approved {
		return nil, denialError(decision.Reason)
	}

	// 3. 广播（不持有任何锁）
	result, err := s.tokens.Submit(ctx, &token.SubmitRequest{
		Token:  req.Token,
		To:     req.To,
		Amount: req.Amount,
	})
	if err != nil {
		// 4. 广播失败：归还预扣，原始错误原样上抛
		if relErr := s.plans.Release(req.Principal, decision); relErr != nil {
			log.Printf("spend: release reservation for %s failed: %v", req.Principal, relErr)
		}
		return nil, err
	}

	// 5. 通知（尽力而为，不阻塞也不影响结果）
	s.dispatchNotice(req, result, decision)

	return result, nil
}

// dispatchNotice 派发交易通知（at-most-once，失败只记日志）
func (s *service) dispatchNotice(req *Request, result *token.BroadcastResult, decision *plan.Decision) {
	if s.notifier == nil {
		return
	}
	notice := &notify.TransactionNotice{
		Principal: req.Principal,
		Token:     result.Token,
		To:        result.To,
		Amount:    result.Amount,
		TxHash:    result.TxHash,
		TotalUsed: decision.Used,
		Remaining: decision.Remaining,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if !s.notifier.TransactionSent(ctx, notice) {
			log.Printf("spend: transaction notice for %s was not delivered", req.Principal)
		}
	}()
}

// denialError 将拒绝原因转换为面向用户的错误
func denialError(reason plan.DenyReason) error {
	switch reason {
	case plan.DenyNoPlan:
		return types.NewError(types.CodeNotFound, "No plan found", "", nil)
	case plan.DenyExpired:
		return types.NewError(types.CodeAuthzDenied, "Plan expired", string(reason), nil)
	case plan.DenyQuotaExhausted:
		return types.NewError(types.CodeAuthzDenied, "Transaction limit reached", string(reason), nil)
	case plan.DenyAmountExceedsCap:
		return types.NewError(types.CodeAuthzDenied, "Amount exceeds max transaction limit", string(reason), nil)
	default:
		return types.NewError(types.CodeAuthzDenied, fmt.Sprintf("Spend denied: %s", reason), "", nil)
	}
}
