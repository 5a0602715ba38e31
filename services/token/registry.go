package token

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/planpay/planpay-go/types"
)

// RegistryEntry 单个代币的注册信息
type RegistryEntry struct {
	// Symbol 代币符号（注册后按大写归一）
	Symbol string

	// Contract 代币合约地址
	Contract common.Address

	// Decimals 代币精度
	Decimals uint8
}

// Registry 代币注册表
//
// **说明**：
// - 进程启动时构造一次，之后只读；不作为全局可变状态引用
// - 新增代币只需追加条目，不影响计划存储与广播逻辑
type Registry struct {
	entries map[string]RegistryEntry
	symbols []string
}

// NewRegistry 构造代币注册表
func NewRegistry(entries ...RegistryEntry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry requires at least one token")
	}

	m := make(map[string]RegistryEntry, len(entries))
	for _, e := range entries {
		symbol := strings.ToUpper(strings.TrimSpace(e.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("token symbol is empty")
		}
		if e.Contract == (common.Address{}) {
			return nil, fmt.Errorf("token %s has zero contract address", symbol)
		}
		if _, ok := m[symbol]; ok {
			return nil, fmt.Errorf("duplicate token symbol: %s", symbol)
		}
		e.Symbol = symbol
		m[symbol] = e
	}

	symbols := make([]string, 0, len(m))
	for s := range m {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return &Registry{entries: m, symbols: symbols}, nil
}

// Resolve 按符号查找代币（不区分大小写）
func (r *Registry) Resolve(symbol string) (RegistryEntry, error) {
	entry, ok := r.entries[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return RegistryEntry{}, types.NewError(
			types.CodeUnsupportedToken,
			fmt.Sprintf("Unsupported token: %s. Use %s.", symbol, strings.Join(r.symbols, " or ")),
			"",
			nil,
		)
	}
	return entry, nil
}

// Symbols 返回已注册的代币符号（升序）
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}
