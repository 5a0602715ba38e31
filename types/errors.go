package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode PlanPay 错误码
// 与各 service 的失败语义一一对应，调用方通过 IsCode 判断错误类别
type ErrorCode string

const (
	// CodeValidation 参数校验失败（地址/金额/授权参数非法，任何状态变更之前拒绝）
	CodeValidation ErrorCode = "PP_VALIDATION"

	// CodeAuthzDenied 配额授权被拒绝（计划过期/次数用尽/超出单笔上限）
	CodeAuthzDenied ErrorCode = "PP_AUTHZ_DENIED"

	// CodeNotFound 用户没有计划
	CodeNotFound ErrorCode = "PP_PLAN_NOT_FOUND"

	// CodeUnsupportedToken 代币不在注册表中
	CodeUnsupportedToken ErrorCode = "PP_UNSUPPORTED_TOKEN"

	// CodeInvalidAddress 收款地址校验和不合法
	CodeInvalidAddress ErrorCode = "PP_INVALID_ADDRESS"

	// CodeInsufficientGas 签名账户没有手续费余额
	CodeInsufficientGas ErrorCode = "PP_INSUFFICIENT_GAS"

	// CodeSigning 交易签名失败
	CodeSigning ErrorCode = "PP_SIGNING"

	// CodeNetwork 节点/RPC 调用失败（含超时），调用方可稍后重试整个流程
	CodeNetwork ErrorCode = "PP_NETWORK"

	// CodeStorage 持久化写入失败（操作必须失败，不得静默丢弃变更）
	CodeStorage ErrorCode = "PP_STORAGE"
)

// PayError PlanPay 错误类型
//
// **说明**：
// - UserMessage 面向最终用户，不包含内部细节（如签名材料）
// - Detail 面向开发者排查
// - TraceID 每次构造时生成，用于日志关联
type PayError struct {
	Code        ErrorCode
	UserMessage string
	Detail      string
	TraceID     string
	Err         error
}

func (e *PayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.UserMessage, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.UserMessage)
}

// Unwrap 返回底层错误，支持 errors.Is / errors.As
func (e *PayError) Unwrap() error {
	return e.Err
}

// NewError 构造 PayError
func NewError(code ErrorCode, userMessage, detail string, err error) *PayError {
	return &PayError{
		Code:        code,
		UserMessage: userMessage,
		Detail:      detail,
		TraceID:     uuid.NewString(),
		Err:         err,
	}
}

// IsCode 判断错误（或其包装链）是否为指定错误码
func IsCode(err error, code ErrorCode) bool {
	var pe *PayError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
