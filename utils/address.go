package utils

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateAddress 校验收款地址格式（EIP-55 校验和）
//
// **规则**：
// - 必须为 0x 前缀 + 40 位十六进制
// - 全小写或全大写视为未携带校验和，直接接受
// - 混合大小写必须与 EIP-55 校验和完全一致
//
// 返回解析后的地址
func ValidateAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)

	// 1. 基本格式：0x + 40 hex
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address format: %q", s)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, fmt.Errorf("address must have 0x prefix: %q", s)
	}

	hexPart := s[2:]

	// 2. 全小写/全大写：未携带校验和
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return common.HexToAddress(s), nil
	}

	// 3. 混合大小写：必须满足 EIP-55 校验和
	addr := common.HexToAddress(s)
	if addr.Hex() != "0x"+hexPart {
		return common.Address{}, fmt.Errorf("address checksum mismatch: %q", s)
	}
	return addr, nil
}
