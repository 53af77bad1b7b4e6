package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/chain"
	"bnb-copilot/pkg/dex"
	"bnb-copilot/pkg/trades"
	ctypes "bnb-copilot/pkg/types"
)

// DefaultCloseSlippage is the slippage used for closing swaps at market price
const DefaultCloseSlippage = 2.5

// ErrNotLive is returned when closing a trade that has no open on-chain position
var ErrNotLive = errors.New("trade is not a live trade")

// ClosingStore reads and closes recorded trades
type ClosingStore interface {
	Get(id string) (*trades.Trade, error)
	MarkClosed(id, exitTxHash string, pnl decimal.Decimal, reason trades.CloseReason) (*trades.Trade, error)
}

// Canceller cancels automation tasks
type Canceller interface {
	Cancel(ctx context.Context, ref automation.TaskRef) error
}

// CloseResult describes a completed close
type CloseResult struct {
	Trade          *trades.Trade   `json:"trade"`
	Quote          *dex.SwapQuote  `json:"quote"`
	AmountIn       string          `json:"amountIn"`
	ApprovalTxHash string          `json:"approvalTxHash,omitempty"`
	ExitTxHash     string          `json:"exitTxHash"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// Closer swaps a live trade's position back into its input token
type Closer struct {
	engine    *dex.Engine
	store     ClosingStore
	canceller Canceller
	tokens    *ctypes.TokenSet
	slippage  float64
	log       *zap.SugaredLogger
}

// NewCloser creates a closer. canceller may be nil when automation is disabled.
func NewCloser(engine *dex.Engine, store ClosingStore, canceller Canceller, tokens *ctypes.TokenSet, slippage float64, log *zap.SugaredLogger) *Closer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if slippage <= 0 {
		slippage = DefaultCloseSlippage
	}
	return &Closer{
		engine:    engine,
		store:     store,
		canceller: canceller,
		tokens:    tokens,
		slippage:  slippage,
		log:       log.With("component", "closer"),
	}
}

// Close swaps the trade's output back at market price and marks it closed
func (c *Closer) Close(ctx context.Context, id string, reason trades.CloseReason) (*CloseResult, error) {
	trade, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !trade.IsLive() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotLive, id, trade.Status)
	}

	wallet := c.engine.Wallet()
	if wallet == nil {
		return nil, dex.ErrNoSigner
	}
	owner := wallet.Address()

	sell, err := c.tokens.Lookup(trade.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", trade.TokenOut, err)
	}
	buy, err := c.tokens.Lookup(trade.TokenIn)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", trade.TokenIn, err)
	}

	balanceStr, err := c.engine.Balance(ctx, sell.Address, owner)
	if err != nil {
		return nil, err
	}
	amount, err := closeAmount(trade.AmountOut, balanceStr)
	if err != nil {
		return nil, fmt.Errorf("no %s balance to close %s: %w", sell.Symbol, id, err)
	}

	params := dex.SwapParams{
		TokenIn:         sell.Address,
		TokenOut:        buy.Address,
		AmountIn:        amount,
		SlippagePercent: c.slippage,
		Recipient:       owner,
	}

	result := &CloseResult{AmountIn: amount}

	approval, err := c.engine.CheckApproval(ctx, sell.Address, owner, amount)
	if err != nil {
		return nil, err
	}
	if approval.NeedsApproval {
		c.log.Infow("Approving close", "token", sell.Symbol, "amount", amount)
		tx, err := c.engine.Approve(ctx, sell.Address, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to approve %s: %w", sell.Symbol, err)
		}
		result.ApprovalTxHash = tx.Hash().Hex()
		if _, err := chain.WaitMined(ctx, c.engine.Backend(), tx); err != nil {
			return nil, fmt.Errorf("approval failed: %w", err)
		}
	}

	quote, err := c.engine.Quote(ctx, params)
	if err != nil {
		return nil, err
	}
	result.Quote = quote

	tx, err := c.engine.Swap(ctx, params, quote)
	if err != nil {
		return nil, fmt.Errorf("failed to execute close swap: %w", err)
	}
	result.ExitTxHash = tx.Hash().Hex()

	if _, err := chain.WaitMined(ctx, c.engine.Backend(), tx); err != nil {
		return nil, fmt.Errorf("close swap failed: %w", err)
	}

	received := decimal.RequireFromString(quote.AmountOut)
	spent, err := decimal.NewFromString(trade.AmountIn)
	if err != nil {
		spent = decimal.Zero
	}
	result.RealizedPnL = received.Sub(spent)

	closed, err := c.store.MarkClosed(id, result.ExitTxHash, result.RealizedPnL, reason)
	if err != nil {
		return nil, fmt.Errorf("swap %s executed but trade not updated: %w", result.ExitTxHash, err)
	}
	result.Trade = closed

	result.Warnings = c.cancelAutomation(ctx, trade)

	c.log.Infow("Trade closed",
		"trade", id,
		"received", quote.AmountOut,
		"pnl", result.RealizedPnL.StringFixed(2),
		"tx", result.ExitTxHash)

	return result, nil
}

// cancelAutomation cancels the trade's TP/SL tasks. Failures are returned as warnings.
func (c *Closer) cancelAutomation(ctx context.Context, trade *trades.Trade) []string {
	if trade.Automation == nil || c.canceller == nil {
		return nil
	}

	var warnings []string
	for _, ref := range trade.Automation.Refs() {
		if ref.ID == "" {
			continue
		}
		if err := c.canceller.Cancel(ctx, ref); err != nil {
			c.log.Warnw("Failed to cancel automation task", "task", ref.ID, "error", err)
			warnings = append(warnings, fmt.Sprintf("failed to cancel %s task %s: %v", ref.Kind, ref.ID, err))
		}
	}
	return warnings
}

// closeAmount uses the recorded output when the balance covers it,
// otherwise 99% of the balance truncated to 6 decimals.
func closeAmount(recorded, balance string) (string, error) {
	bal, err := decimal.NewFromString(balance)
	if err != nil {
		return "", err
	}
	if !bal.IsPositive() {
		return "", fmt.Errorf("balance is %s", balance)
	}

	if out, err := decimal.NewFromString(recorded); err == nil && out.IsPositive() && out.LessThanOrEqual(bal) {
		return recorded, nil
	}

	amount := bal.Mul(decimal.RequireFromString("0.99")).Truncate(6)
	if !amount.IsPositive() {
		return "", fmt.Errorf("balance %s too small", balance)
	}
	return amount.String(), nil
}
