package trades

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bnb-copilot/pkg/automation"
)

// Status defines the lifecycle state of a recorded trade
type Status string

const (
	StatusActive     Status = "active"     // Live trade backed by an on-chain swap
	StatusMonitoring Status = "monitoring" // Paper trade, watch-only
	StatusClosed     Status = "closed"     // Completed
)

// CloseReason records why a trade was closed
type CloseReason string

const (
	CloseManual     CloseReason = "manual"
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
)

// Target is the price level a trade has reached
type Target string

const (
	TargetNone       Target = ""
	TargetTakeProfit Target = "take_profit"
	TargetStopLoss   Target = "stop_loss"
)

var (
	// ErrNotFound is returned for unknown trade ids
	ErrNotFound = errors.New("trade not found")

	// ErrInvalidTargets is returned when take-profit > entry > stop-loss does not hold
	ErrInvalidTargets = errors.New("invalid trade targets")
)

// Trade is a locally recorded trade with its TP/SL targets
type Trade struct {
	ID              string                   `json:"id"`
	Wallet          string                   `json:"wallet"`
	TxHash          string                   `json:"txHash,omitempty"`
	Symbol          string                   `json:"symbol"`
	TokenIn         string                   `json:"tokenIn"`
	TokenOut        string                   `json:"tokenOut"`
	Status          Status                   `json:"status"`
	EntryPrice      decimal.Decimal          `json:"entryPrice"`
	CurrentPrice    decimal.Decimal          `json:"currentPrice"`
	TakeProfitPrice decimal.Decimal          `json:"takeProfitPrice"`
	StopLossPrice   decimal.Decimal          `json:"stopLossPrice"`
	Confidence      int                      `json:"confidence"`
	Reasoning       string                   `json:"reasoning,omitempty"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
	AmountIn        string                   `json:"amountIn"`
	AmountOut       string                   `json:"amountOut"`
	TradeValue      decimal.Decimal          `json:"tradeValue"`
	Automation      *automation.Registration `json:"automation,omitempty"`
	ClosedAt        *time.Time               `json:"closedAt,omitempty"`
	ExitTxHash      string                   `json:"exitTxHash,omitempty"`
	RealizedPnL     decimal.NullDecimal      `json:"realizedPnl"`
	CloseReason     CloseReason              `json:"closeReason,omitempty"`
}

// Validate checks the price targets of a trade
func (t *Trade) Validate() error {
	if t.Wallet == "" {
		return fmt.Errorf("wallet is required")
	}
	return ValidateTargets(t.EntryPrice, t.TakeProfitPrice, t.StopLossPrice)
}

// ValidateTargets checks that take-profit > entry > stop-loss > 0
func ValidateTargets(entry, takeProfit, stopLoss decimal.Decimal) error {
	if !entry.IsPositive() {
		return fmt.Errorf("%w: entry price must be greater than 0", ErrInvalidTargets)
	}
	if !takeProfit.GreaterThan(entry) {
		return fmt.Errorf("%w: take profit %s must be above entry %s", ErrInvalidTargets, takeProfit, entry)
	}
	if !stopLoss.LessThan(entry) {
		return fmt.Errorf("%w: stop loss %s must be below entry %s", ErrInvalidTargets, stopLoss, entry)
	}
	if !stopLoss.IsPositive() {
		return fmt.Errorf("%w: stop loss must be greater than 0", ErrInvalidTargets)
	}
	return nil
}

// IsLive reports whether the trade is backed by an executed swap and still open
func (t *Trade) IsLive() bool {
	return t.Status == StatusActive && t.TxHash != ""
}

// HasAutomation reports whether TP/SL tasks are attached
func (t *Trade) HasAutomation() bool {
	return t.Automation != nil
}

// CheckTargets reports which target, if any, price has crossed
func (t *Trade) CheckTargets(price decimal.Decimal) Target {
	switch {
	case price.GreaterThanOrEqual(t.TakeProfitPrice):
		return TargetTakeProfit
	case price.LessThanOrEqual(t.StopLossPrice):
		return TargetStopLoss
	default:
		return TargetNone
	}
}

// UnrealizedPnL values the position at price relative to entry
func (t *Trade) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	amount, err := decimal.NewFromString(t.AmountOut)
	if err != nil {
		return decimal.Zero
	}
	return price.Sub(t.EntryPrice).Mul(amount)
}

// BaseQuote splits the symbol into its base and quote assets
func (t *Trade) BaseQuote() (string, string) {
	parts := strings.SplitN(t.Symbol, "/", 2)
	if len(parts) != 2 {
		return t.Symbol, ""
	}
	return parts[0], parts[1]
}

// clone returns a copy that does not share mutable fields
func (t *Trade) clone() *Trade {
	cp := *t
	if t.Automation != nil {
		reg := *t.Automation
		cp.Automation = &reg
	}
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		cp.ClosedAt = &closed
	}
	return &cp
}

// Stats summarises the trades of a wallet
type Stats struct {
	Total         int             `json:"total"`
	Active        int             `json:"active"`
	Monitoring    int             `json:"monitoring"`
	Closed        int             `json:"closed"`
	Automated     int             `json:"automated"`
	AvgConfidence float64         `json:"avgConfidence"`
	TotalPnL      decimal.Decimal `json:"totalPnl"`
}
