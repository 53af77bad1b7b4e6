// Package dextest wires a fake router and tokens onto an in-memory backend.
package dextest

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/chain"
	"bnb-copilot/pkg/chain/chaintest"
	"bnb-copilot/pkg/dex"
)

var (
	Router  = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	Wrapped = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	Stable  = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	Cake    = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")

	Network = dex.Network{Router: Router, Wrapped: Wrapped, Stable: Stable}
)

var erc20ABI = chain.MustParseABI(chain.ERC20ABI)

type pair struct{ from, to common.Address }

// Chain is a fake BSC with a constant-rate router
type Chain struct {
	Backend *chaintest.Backend
	Wallet  *chain.Wallet

	mu         sync.Mutex
	rates      map[pair]decimal.Decimal
	allowances map[common.Address]map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	swaps      []chaintest.Call
}

// New creates a fake chain with wrapped, stable and cake tokens at 18 decimals
// and a funded wallet.
func New(t *testing.T) *Chain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c := &Chain{
		Backend:    chaintest.NewBackend(),
		Wallet:     chain.NewWalletFromKey(key, 56),
		rates:      make(map[pair]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
	}

	for _, token := range []common.Address{Wrapped, Stable, Cake} {
		c.registerToken(token)
	}
	c.registerRouter()

	c.SetRate(Wrapped, Stable, "600")
	c.SetRate(Stable, Wrapped, "0.0016")
	c.SetRate(Cake, Wrapped, "0.004")
	c.SetRate(Wrapped, Cake, "250")

	c.Backend.SetBalance(c.Wallet.Address(), Units("10"))
	c.SetTokenBalance(Stable, c.Wallet.Address(), Units("5000"))

	return c
}

// Units converts a human amount to 18-decimal base units
func Units(amount string) *big.Int {
	v, err := dex.ParseUnits(amount, 18)
	if err != nil {
		panic(err)
	}
	return v
}

// Engine builds an engine bound to this chain and its wallet
func (c *Chain) Engine() *dex.Engine {
	return dex.NewEngine(dex.Config{Network: Network}, c.Backend, c.Wallet, nil)
}

// SetRate sets the output per unit input for a single hop
func (c *Chain) SetRate(from, to common.Address, rate string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[pair{from, to}] = decimal.RequireFromString(rate)
}

// SetAllowance sets the router allowance of owner for token
func (c *Chain) SetAllowance(token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowances[token] == nil {
		c.allowances[token] = make(map[common.Address]*big.Int)
	}
	c.allowances[token][owner] = new(big.Int).Set(amount)
}

// SetTokenBalance sets an account's token balance
func (c *Chain) SetTokenBalance(token, owner common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTokenBalance(token, owner, amount)
}

func (c *Chain) setTokenBalance(token, owner common.Address, amount *big.Int) {
	if c.balances[token] == nil {
		c.balances[token] = make(map[common.Address]*big.Int)
	}
	c.balances[token][owner] = new(big.Int).Set(amount)
}

// TokenBalance returns an account's token balance
func (c *Chain) TokenBalance(token, owner common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenBalance(token, owner)
}

func (c *Chain) tokenBalance(token, owner common.Address) *big.Int {
	if bal, ok := c.balances[token][owner]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Swaps returns the decoded router swap transactions
func (c *Chain) Swaps() []chaintest.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chaintest.Call, len(c.swaps))
	copy(out, c.swaps)
	return out
}

func (c *Chain) amountsOut(amountIn *big.Int, path []common.Address) []*big.Int {
	amounts := []*big.Int{amountIn}
	current := decimal.NewFromBigInt(amountIn, 0)
	for i := 0; i+1 < len(path); i++ {
		rate, ok := c.rates[pair{path[i], path[i+1]}]
		if !ok {
			rate = decimal.NewFromInt(1)
		}
		current = current.Mul(rate).Floor()
		amounts = append(amounts, current.BigInt())
	}
	return amounts
}

func (c *Chain) registerToken(token common.Address) {
	b := c.Backend
	b.Handle(token, erc20ABI, "decimals", func(chaintest.Call) ([]interface{}, error) {
		return []interface{}{uint8(18)}, nil
	})
	b.Handle(token, erc20ABI, "symbol", func(chaintest.Call) ([]interface{}, error) {
		return []interface{}{"TKN"}, nil
	})
	b.Handle(token, erc20ABI, "allowance", func(call chaintest.Call) ([]interface{}, error) {
		owner := call.Args[0].(common.Address)
		c.mu.Lock()
		defer c.mu.Unlock()
		if v, ok := c.allowances[token][owner]; ok {
			return []interface{}{new(big.Int).Set(v)}, nil
		}
		return []interface{}{big.NewInt(0)}, nil
	})
	b.Handle(token, erc20ABI, "balanceOf", func(call chaintest.Call) ([]interface{}, error) {
		owner := call.Args[0].(common.Address)
		c.mu.Lock()
		defer c.mu.Unlock()
		return []interface{}{c.tokenBalance(token, owner)}, nil
	})
	b.Handle(token, erc20ABI, "approve", func(call chaintest.Call) ([]interface{}, error) {
		c.SetAllowance(token, call.From, call.Args[1].(*big.Int))
		return []interface{}{true}, nil
	})
}

func (c *Chain) registerRouter() {
	b := c.Backend
	b.Handle(Router, dex.RouterABI, "getAmountsOut", func(call chaintest.Call) ([]interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return []interface{}{c.amountsOut(call.Args[0].(*big.Int), call.Args[1].([]common.Address))}, nil
	})

	swap := func(call chaintest.Call) ([]interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.swaps = append(c.swaps, call)

		var (
			amountIn *big.Int
			path     []common.Address
			to       common.Address
		)
		switch call.Method {
		case "swapExactETHForTokens":
			amountIn = call.Value
			path = call.Args[1].([]common.Address)
			to = call.Args[2].(common.Address)
		default:
			amountIn = call.Args[0].(*big.Int)
			path = call.Args[2].([]common.Address)
			to = call.Args[3].(common.Address)
		}

		amounts := c.amountsOut(amountIn, path)
		out := amounts[len(amounts)-1]

		if call.Method != "swapExactETHForTokens" {
			in := path[0]
			c.setTokenBalance(in, call.From, new(big.Int).Sub(c.tokenBalance(in, call.From), amountIn))
		}
		if call.Method != "swapExactTokensForETH" {
			last := path[len(path)-1]
			c.setTokenBalance(last, to, new(big.Int).Add(c.tokenBalance(last, to), out))
		}
		return []interface{}{amounts}, nil
	}
	b.Handle(Router, dex.RouterABI, "swapExactETHForTokens", swap)
	b.Handle(Router, dex.RouterABI, "swapExactTokensForETH", swap)
	b.Handle(Router, dex.RouterABI, "swapExactTokensForTokens", swap)
}
