package dex_test

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/dex"
	"bnb-copilot/pkg/dex/dextest"
	"bnb-copilot/pkg/types"
)

func TestQuoteNativeToStable(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()

	quote, err := engine.Quote(context.Background(), dex.SwapParams{
		TokenIn:         types.NativeAddress,
		TokenOut:        dextest.Stable,
		AmountIn:        "0.5",
		SlippagePercent: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "0.5", quote.AmountIn)
	assert.Equal(t, "300", quote.AmountOut)
	assert.Equal(t, "294", quote.AmountOutMin)
	assert.Equal(t, []common.Address{dextest.Wrapped, dextest.Stable}, quote.Route)
	assert.Equal(t, dex.PriceImpactPlaceholder, quote.PriceImpact)
	assert.Equal(t, uint8(18), quote.DecimalsIn)
}

func TestQuoteExampleMinimum(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()

	// 1 USDT -> 0.0016 WBNB
	quote, err := engine.Quote(context.Background(), dex.SwapParams{
		TokenIn:         dextest.Stable,
		TokenOut:        dextest.Wrapped,
		AmountIn:        "1",
		SlippagePercent: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0016", quote.AmountOut)
	assert.Equal(t, "0.001568", quote.AmountOutMin)
}

func TestQuoteMultiHop(t *testing.T) {
	c := dextest.New(t)

	quote, err := c.Engine().Quote(context.Background(), dex.SwapParams{
		TokenIn:         dextest.Cake,
		TokenOut:        dextest.Stable,
		AmountIn:        "100",
		SlippagePercent: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{dextest.Cake, dextest.Wrapped, dextest.Stable}, quote.Route)
	// 100 CAKE * 0.004 * 600
	assert.Equal(t, "240", quote.AmountOut)
}

func TestQuoteZeroAmountSkipsRouter(t *testing.T) {
	c := dextest.New(t)

	quote, err := c.Engine().Quote(context.Background(), dex.SwapParams{
		TokenIn:  dextest.Stable,
		TokenOut: dextest.Wrapped,
		AmountIn: "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "0", quote.AmountOut)

	for _, call := range c.Backend.Calls() {
		assert.NotEqual(t, "getAmountsOut", call.Method)
	}
}

func TestQuoteValidation(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()
	ctx := context.Background()

	_, err := engine.Quote(ctx, dex.SwapParams{TokenIn: dextest.Stable, TokenOut: dextest.Wrapped, AmountIn: "1", SlippagePercent: 101})
	assert.ErrorIs(t, err, dex.ErrInvalidParams)

	_, err = engine.Quote(ctx, dex.SwapParams{TokenIn: dextest.Stable, TokenOut: dextest.Wrapped, AmountIn: "1", SlippagePercent: math.NaN()})
	assert.ErrorIs(t, err, dex.ErrInvalidParams)

	_, err = engine.Quote(ctx, dex.SwapParams{TokenIn: types.NativeAddress, TokenOut: dextest.Wrapped, AmountIn: "1"})
	assert.ErrorIs(t, err, dex.ErrInvalidParams)

	_, err = engine.Quote(ctx, dex.SwapParams{TokenIn: dextest.Stable, TokenOut: dextest.Wrapped, AmountIn: "-1"})
	assert.ErrorIs(t, err, dex.ErrInvalidAmount)

	_, err = engine.Quote(ctx, dex.SwapParams{TokenIn: dextest.Stable, TokenOut: dextest.Wrapped, AmountIn: "0.0000000000000000001"})
	assert.ErrorIs(t, err, dex.ErrInvalidAmount)
}

func TestQuoteFailureIsGeneric(t *testing.T) {
	c := dextest.New(t)
	cause := errors.New("execution reverted: PancakeLibrary: INSUFFICIENT_LIQUIDITY")
	c.Backend.CallErr = cause

	_, err := c.Engine().Quote(context.Background(), dex.SwapParams{
		TokenIn:  dextest.Stable,
		TokenOut: dextest.Wrapped,
		AmountIn: "1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, dex.ErrQuoteFailed)
	assert.False(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "INSUFFICIENT_LIQUIDITY")
}

func TestCheckApprovalNative(t *testing.T) {
	c := dextest.New(t)

	status, err := c.Engine().CheckApproval(context.Background(), types.NativeAddress, c.Wallet.Address(), "1000000")
	require.NoError(t, err)
	assert.False(t, status.NeedsApproval)
	assert.Equal(t, "unlimited", status.CurrentAllowance)
	assert.Empty(t, c.Backend.Calls())
}

func TestCheckApprovalAndApprove(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()
	ctx := context.Background()
	owner := c.Wallet.Address()

	status, err := engine.CheckApproval(ctx, dextest.Stable, owner, "10")
	require.NoError(t, err)
	assert.True(t, status.NeedsApproval)
	assert.Equal(t, "0", status.CurrentAllowance)

	tx, err := engine.Approve(ctx, dextest.Stable, "10")
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), tx.Gas())
	assert.Equal(t, dextest.Stable, *tx.To())

	status, err = engine.CheckApproval(ctx, dextest.Stable, owner, "10")
	require.NoError(t, err)
	assert.False(t, status.NeedsApproval)
	assert.Equal(t, "10", status.CurrentAllowance)

	// More than approved needs approval again
	status, err = engine.CheckApproval(ctx, dextest.Stable, owner, "10.5")
	require.NoError(t, err)
	assert.True(t, status.NeedsApproval)
}

func TestSwapEntryPoints(t *testing.T) {
	tests := []struct {
		name      string
		in        common.Address
		out       common.Address
		useNative bool
		method    string
		gas       uint64
		withValue bool
	}{
		{name: "native in", in: types.NativeAddress, out: dextest.Stable, method: "swapExactETHForTokens", gas: 180000, withValue: true},
		{name: "native out", in: dextest.Stable, out: types.NativeAddress, method: "swapExactTokensForETH", gas: 180000},
		{name: "tokens", in: dextest.Stable, out: dextest.Wrapped, method: "swapExactTokensForTokens", gas: 200000},
		{name: "wrapped in as native", in: dextest.Wrapped, out: dextest.Stable, useNative: true, method: "swapExactETHForTokens", gas: 180000, withValue: true},
		{name: "wrapped out as native", in: dextest.Stable, out: dextest.Wrapped, useNative: true, method: "swapExactTokensForETH", gas: 180000},
		{name: "wrapped without flag", in: dextest.Wrapped, out: dextest.Stable, method: "swapExactTokensForTokens", gas: 200000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dextest.New(t)
			engine := c.Engine()
			ctx := context.Background()

			params := dex.SwapParams{
				TokenIn:         tt.in,
				TokenOut:        tt.out,
				AmountIn:        "1",
				SlippagePercent: 2,
				UseNative:       tt.useNative,
			}
			quote, err := engine.Quote(ctx, params)
			require.NoError(t, err)

			before := time.Now().Unix()
			tx, err := engine.Swap(ctx, params, quote)
			require.NoError(t, err)
			assert.Equal(t, tt.gas, tx.Gas())
			assert.Equal(t, dextest.Router, *tx.To())
			if tt.withValue {
				assert.Equal(t, quote.AmountInRaw.String(), tx.Value().String())
			} else {
				assert.Equal(t, int64(0), tx.Value().Int64())
			}

			swaps := c.Swaps()
			require.Len(t, swaps, 1)
			assert.Equal(t, tt.method, swaps[0].Method)

			args := swaps[0].Args
			deadline := args[len(args)-1].(*big.Int).Int64()
			assert.InDelta(t, before+1200, deadline, 5)
			recipient := args[len(args)-2].(common.Address)
			assert.Equal(t, c.Wallet.Address(), recipient)
		})
	}
}

func TestSwapRequiresWallet(t *testing.T) {
	c := dextest.New(t)
	engine := dex.NewEngine(dex.Config{Network: dextest.Network}, c.Backend, nil, nil)

	_, err := engine.Swap(context.Background(), dex.SwapParams{
		TokenIn:  types.NativeAddress,
		TokenOut: dextest.Stable,
		AmountIn: "1",
	}, &dex.SwapQuote{AmountInRaw: big.NewInt(1)})
	assert.ErrorIs(t, err, dex.ErrNoSigner)
}

func TestBalance(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()
	ctx := context.Background()

	bal, err := engine.Balance(ctx, types.NativeAddress, c.Wallet.Address())
	require.NoError(t, err)
	assert.Equal(t, "10", bal)

	bal, err = engine.Balance(ctx, dextest.Stable, c.Wallet.Address())
	require.NoError(t, err)
	assert.Equal(t, "5000", bal)
}

func TestSymbol(t *testing.T) {
	c := dextest.New(t)
	engine := c.Engine()
	ctx := context.Background()

	symbol, err := engine.Symbol(ctx, types.NativeAddress)
	require.NoError(t, err)
	assert.Equal(t, "BNB", symbol)

	symbol, err = engine.Symbol(ctx, dextest.Cake)
	require.NoError(t, err)
	assert.Equal(t, "TKN", symbol)

	_, err = engine.Symbol(ctx, common.HexToAddress("0x000000000000000000000000000000000000bEEF"))
	assert.ErrorContains(t, err, "failed to read token symbol")
}
