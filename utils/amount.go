package utils

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// ParseAmount 解析十进制金额字符串，要求严格为正
//
// 用于授权阶段与单笔上限（maxPerTx）比较；上链金额请使用 ToUnits 做精确换算
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("amount must be positive, got %v", v)
	}
	return v, nil
}

// ToUnits 将十进制金额字符串换算为代币最小单位
//
// **说明**：
// - 纯整数运算，避免浮点误差（等价于 ethers parseUnits）
// - 小数位数超过代币精度视为错误，不做静默截断
// - 结果必须严格为正
func ToUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("amount must be an unsigned decimal, got %q", s)
	}

	// 1. 拆分整数与小数部分
	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	// 2. 小数位数不得超过代币精度
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}

	// 3. value = (whole || frac) * 10^(decimals-len(frac))
	digits := whole + frac
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(int(decimals)-len(frac))), nil)
	value.Mul(value, scale)

	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %q", s)
	}
	return value, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
