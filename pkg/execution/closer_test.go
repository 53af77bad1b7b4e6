package execution_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/dex/dextest"
	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/trades"
	ctypes "bnb-copilot/pkg/types"
)

type fakeCanceller struct {
	mu        sync.Mutex
	err       error
	cancelled []string
}

func (f *fakeCanceller) Cancel(ctx context.Context, ref automation.TaskRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, ref.ID)
	return nil
}

func recordBuy(t *testing.T, store *trades.Manager, wallet string) *trades.Trade {
	t.Helper()
	trade, err := store.RecordExecuted(trades.NewTrade{
		Wallet:          wallet,
		TxHash:          "0xfeed",
		Symbol:          "WBNB/USDT",
		TokenIn:         "USDT",
		TokenOut:        "WBNB",
		EntryPrice:      decimal.RequireFromString("600"),
		TakeProfitPrice: decimal.RequireFromString("660"),
		StopLossPrice:   decimal.RequireFromString("570"),
		AmountIn:        "10",
		AmountOut:       "0.016",
	})
	require.NoError(t, err)
	return trade
}

func newCloser(c *dextest.Chain, store *trades.Manager, canceller execution.Canceller) *execution.Closer {
	tokens := ctypes.NewTokenSet(dextest.Wrapped, dextest.Stable)
	return execution.NewCloser(c.Engine(), store, canceller, tokens, 0, nil)
}

func TestCloseSwapsBack(t *testing.T) {
	ctx := context.Background()
	c := dextest.New(t)
	owner := c.Wallet.Address()
	c.SetTokenBalance(dextest.Wrapped, owner, dextest.Units("0.016"))

	store := newManager(t)
	trade := recordBuy(t, store, owner.Hex())
	require.NoError(t, store.AttachAutomation(trade.ID, &automation.Registration{
		TakeProfit: automation.TaskRef{ID: "tp-1", Kind: automation.KindTakeProfit},
		StopLoss:   automation.TaskRef{ID: "sl-1", Kind: automation.KindStopLoss},
	}))

	canceller := &fakeCanceller{}
	result, err := newCloser(c, store, canceller).Close(ctx, trade.ID, trades.CloseManual)
	require.NoError(t, err)

	assert.Equal(t, "0.016", result.AmountIn)
	assert.Equal(t, "9.6", result.Quote.AmountOut)
	assert.True(t, result.RealizedPnL.Equal(decimal.RequireFromString("-0.4")))
	assert.NotEmpty(t, result.ApprovalTxHash)
	assert.Equal(t, []string{"approve", "swapExactTokensForTokens"}, c.Backend.SentMethods())

	closed, err := store.Get(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, trades.StatusClosed, closed.Status)
	assert.Equal(t, result.ExitTxHash, closed.ExitTxHash)
	assert.Equal(t, trades.CloseManual, closed.CloseReason)
	assert.True(t, closed.RealizedPnL.Valid)

	assert.ElementsMatch(t, []string{"tp-1", "sl-1"}, canceller.cancelled)
	assert.Empty(t, result.Warnings)

	// A closed trade cannot be closed again
	_, err = newCloser(c, store, canceller).Close(ctx, trade.ID, trades.CloseManual)
	assert.ErrorIs(t, err, execution.ErrNotLive)
}

func TestCloseUsesShortBalance(t *testing.T) {
	ctx := context.Background()
	c := dextest.New(t)
	owner := c.Wallet.Address()
	c.SetTokenBalance(dextest.Wrapped, owner, dextest.Units("0.01"))
	c.SetAllowance(dextest.Wrapped, owner, dextest.Units("1"))

	store := newManager(t)
	trade := recordBuy(t, store, owner.Hex())

	result, err := newCloser(c, store, nil).Close(ctx, trade.ID, trades.CloseStopLoss)
	require.NoError(t, err)

	assert.Equal(t, "0.0099", result.AmountIn)
	assert.Equal(t, "5.94", result.Quote.AmountOut)
	assert.Empty(t, result.ApprovalTxHash)
	assert.Equal(t, []string{"swapExactTokensForTokens"}, c.Backend.SentMethods())
}

func TestCloseCancelFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	c := dextest.New(t)
	owner := c.Wallet.Address()
	c.SetTokenBalance(dextest.Wrapped, owner, dextest.Units("0.016"))
	c.SetAllowance(dextest.Wrapped, owner, dextest.Units("1"))

	store := newManager(t)
	trade := recordBuy(t, store, owner.Hex())
	require.NoError(t, store.AttachAutomation(trade.ID, &automation.Registration{
		TakeProfit: automation.TaskRef{ID: "tp-1", Kind: automation.KindTakeProfit},
		StopLoss:   automation.TaskRef{ID: "sl-1", Kind: automation.KindStopLoss},
	}))

	result, err := newCloser(c, store, &fakeCanceller{err: errors.New("boom")}).Close(ctx, trade.ID, trades.CloseManual)
	require.NoError(t, err)
	assert.Len(t, result.Warnings, 2)
	assert.Equal(t, trades.StatusClosed, result.Trade.Status)
}

func TestCloseRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("paper trade", func(t *testing.T) {
		c := dextest.New(t)
		store := newManager(t)
		paper, err := store.Monitor(trades.NewTrade{
			Wallet:          c.Wallet.Address().Hex(),
			Symbol:          "WBNB/USDT",
			EntryPrice:      decimal.RequireFromString("600"),
			TakeProfitPrice: decimal.RequireFromString("660"),
			StopLossPrice:   decimal.RequireFromString("570"),
		})
		require.NoError(t, err)

		_, err = newCloser(c, store, nil).Close(ctx, paper.ID, trades.CloseManual)
		assert.ErrorIs(t, err, execution.ErrNotLive)
	})

	t.Run("no balance", func(t *testing.T) {
		c := dextest.New(t)
		store := newManager(t)
		trade := recordBuy(t, store, c.Wallet.Address().Hex())

		_, err := newCloser(c, store, nil).Close(ctx, trade.ID, trades.CloseManual)
		assert.Error(t, err)
		assert.Empty(t, c.Backend.Sent())

		current, err := store.Get(trade.ID)
		require.NoError(t, err)
		assert.Equal(t, trades.StatusActive, current.Status)
	})

	t.Run("unknown trade", func(t *testing.T) {
		c := dextest.New(t)
		_, err := newCloser(c, newManager(t), nil).Close(ctx, "missing", trades.CloseManual)
		assert.ErrorIs(t, err, trades.ErrNotFound)
	})
}
