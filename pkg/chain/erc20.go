package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ERC20ABI is the token fragment used for reads and approvals
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI = MustParseABI(ERC20ABI)

// ERC20 wraps the token reads the app performs
type ERC20 struct {
	*Contract
}

// NewERC20 binds a token address
func NewERC20(address common.Address, backend Backend) *ERC20 {
	return &ERC20{Contract: NewContract(address, erc20ABI, backend)}
}

// Decimals returns the token's decimals
func (t *ERC20) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.Call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	return decimals, nil
}

// Symbol returns the token's symbol
func (t *ERC20) Symbol(ctx context.Context) (string, error) {
	out, err := t.Call(ctx, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol type %T", out[0])
	}
	return symbol, nil
}

// BalanceOf returns an account's raw token balance
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	out, err := t.Call(ctx, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return bigOutput(out[0])
}

// Allowance returns the raw amount spender may move on behalf of owner
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.Call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOutput(out[0])
}

// PackApprove encodes approve(spender, amount)
func (t *ERC20) PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return t.Pack("approve", spender, amount)
}

func bigOutput(v interface{}) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected integer type %T", v)
	}
	return n, nil
}
