package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/trades"
)

// AutomationParams builds the TP/SL registration for a recorded trade
func AutomationParams(trade *trades.Trade) (automation.TradeParams, error) {
	amount, err := decimal.NewFromString(trade.AmountOut)
	if err != nil || !amount.IsPositive() {
		return automation.TradeParams{}, fmt.Errorf("invalid trade amount %q", trade.AmountOut)
	}

	return automation.TradeParams{
		Wallet:          trade.Wallet,
		TokenPair:       trade.Symbol,
		EntryPrice:      trade.EntryPrice,
		TakeProfitPrice: trade.TakeProfitPrice,
		StopLossPrice:   trade.StopLossPrice,
		TradeAmount:     amount,
		SlippagePercent: AutomationSlippage,
	}, nil
}

// EnsureAutomation registers TP/SL tasks for a live trade that has none.
// A trade that already has tasks is returned unchanged.
func EnsureAutomation(ctx context.Context, store TradeStore, registrar Registrar, id string) (*trades.Trade, error) {
	trade, err := store.Get(id)
	if err != nil {
		return nil, err
	}
	if !trade.IsLive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLive, id, trade.Status)
	}
	if trade.HasAutomation() {
		return trade, nil
	}

	params, err := AutomationParams(trade)
	if err != nil {
		return nil, err
	}

	reg, err := registrar.RegisterTrade(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("automation registration failed: %w", err)
	}

	if err := store.AttachAutomation(id, reg); err != nil {
		return nil, fmt.Errorf("automation registered but not saved to trade: %w", err)
	}

	return store.Get(id)
}
