// Package execution sequences approval, swap, trade recording and TP/SL
// automation for a single trade.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/chain"
	"bnb-copilot/pkg/dex"
	"bnb-copilot/pkg/trades"
)

// Step is the position of a Sequencer in the execution flow
type Step string

const (
	StepPreview    Step = "preview"
	StepApproval   Step = "approval"
	StepSwap       Step = "swap"
	StepAutomation Step = "automation"
	StepSuccess    Step = "success"
	StepError      Step = "error"
)

var (
	// ErrApprovalRequired is returned when a swap is attempted before the router may spend the input
	ErrApprovalRequired = errors.New("token approval required before swap")

	// ErrInsufficientBalance is returned when the wallet holds less than the input amount
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrWrongStep is returned when an operation is invoked out of order
	ErrWrongStep = errors.New("operation not allowed in current step")
)

// Registrar registers TP/SL automation for a trade
type Registrar interface {
	RegisterTrade(ctx context.Context, params automation.TradeParams) (*automation.Registration, error)
}

// TradeStore records executed trades
type TradeStore interface {
	RecordExecuted(nt trades.NewTrade) (*trades.Trade, error)
	AttachAutomation(id string, reg *automation.Registration) error
	Get(id string) (*trades.Trade, error)
}

// AutomationSlippage is the slippage tolerance sent with TP/SL tasks
const AutomationSlippage = 2.0

// Intent is a trade the user wants executed
type Intent struct {
	Params     dex.SwapParams
	Symbol     string
	TokenIn    string
	TokenOut   string
	EntryPrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	Confidence int
	Reasoning  string
	Automate   bool
}

// State is a snapshot of a Sequencer
type State struct {
	Step                Step                     `json:"step"`
	Quote               *dex.SwapQuote           `json:"quote,omitempty"`
	Approval            *dex.ApprovalStatus      `json:"approval,omitempty"`
	Balance             string                   `json:"balance,omitempty"`
	InsufficientBalance bool                     `json:"insufficientBalance"`
	ApprovalTxHash      string                   `json:"approvalTxHash,omitempty"`
	TxHash              string                   `json:"txHash,omitempty"`
	Trade               *trades.Trade            `json:"trade,omitempty"`
	Automation          *automation.Registration `json:"automation,omitempty"`
	Warnings            []string                 `json:"warnings,omitempty"`
	Err                 error                    `json:"-"`
}

// NeedsApproval reports whether an approval must be submitted before the swap
func (s State) NeedsApproval() bool {
	return s.Approval != nil && s.Approval.NeedsApproval
}

// Sequencer drives one trade through approval, swap and automation
type Sequencer struct {
	engine    *dex.Engine
	store     TradeStore
	registrar Registrar
	log       *zap.SugaredLogger

	mu     sync.Mutex
	intent Intent
	state  State
}

// NewSequencer creates a sequencer. registrar may be nil to disable automation.
func NewSequencer(engine *dex.Engine, store TradeStore, registrar Registrar, intent Intent, log *zap.SugaredLogger) *Sequencer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sequencer{
		engine:    engine,
		store:     store,
		registrar: registrar,
		log:       log.With("component", "sequencer"),
		intent:    intent,
		state:     State{Step: StepPreview},
	}
}

// State returns a snapshot of the current state
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Warnings = append([]string(nil), s.state.Warnings...)
	return st
}

// Intent returns the trade being executed
func (s *Sequencer) Intent() Intent {
	return s.intent
}

func (s *Sequencer) owner() (common.Address, error) {
	w := s.engine.Wallet()
	if w == nil {
		return common.Address{}, dex.ErrNoSigner
	}
	return w.Address(), nil
}

// fail moves to the error step with the raw cause
func (s *Sequencer) fail(err error) (State, error) {
	s.log.Errorw("Execution failed", "step", s.state.Step, "error", err)
	s.state.Step = StepError
	s.state.Err = err
	return s.state, err
}

func (s *Sequencer) warn(msg string) {
	s.state.Warnings = append(s.state.Warnings, msg)
	s.log.Warn(msg)
}

// Load fetches the quote, approval status and balance for the preview
func (s *Sequencer) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Step != StepPreview && s.state.Step != StepError {
		return s.state, fmt.Errorf("%w: load in %s", ErrWrongStep, s.state.Step)
	}
	s.state = State{Step: StepPreview}

	if err := trades.ValidateTargets(s.intent.EntryPrice, s.intent.TakeProfit, s.intent.StopLoss); err != nil {
		return s.fail(err)
	}

	owner, err := s.owner()
	if err != nil {
		return s.fail(err)
	}

	quote, err := s.engine.Quote(ctx, s.intent.Params)
	if err != nil {
		return s.fail(err)
	}
	s.state.Quote = quote

	if err := s.refreshApproval(ctx, owner); err != nil {
		return s.fail(err)
	}

	balance, err := s.engine.Balance(ctx, s.intent.Params.TokenIn, owner)
	if err != nil {
		return s.fail(err)
	}
	s.state.Balance = balance
	s.state.InsufficientBalance = !covers(balance, quote.AmountIn)

	s.log.Debugw("Preview loaded",
		"amountOut", quote.AmountOut,
		"needsApproval", s.state.NeedsApproval(),
		"balance", balance)

	return s.state, nil
}

func (s *Sequencer) refreshApproval(ctx context.Context, owner common.Address) error {
	status, err := s.engine.CheckApproval(ctx, s.intent.Params.TokenIn, owner, s.intent.Params.AmountIn)
	if err != nil {
		return err
	}
	s.state.Approval = status
	return nil
}

// covers reports whether balance is at least amount
func covers(balance, amount string) bool {
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return false
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return false
	}
	return b.GreaterThanOrEqual(a)
}

// Approve submits the router approval, waits for it to be mined and re-checks the allowance
func (s *Sequencer) Approve(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Step != StepPreview || s.state.Quote == nil {
		return s.state, fmt.Errorf("%w: approve in %s", ErrWrongStep, s.state.Step)
	}
	if !s.state.NeedsApproval() {
		return s.state, nil
	}

	owner, err := s.owner()
	if err != nil {
		return s.fail(err)
	}

	s.state.Step = StepApproval
	tx, err := s.engine.Approve(ctx, s.intent.Params.TokenIn, s.intent.Params.AmountIn)
	if err != nil {
		return s.fail(err)
	}
	s.state.ApprovalTxHash = tx.Hash().Hex()

	confirmed := true
	if _, err := chain.WaitMined(ctx, s.engine.Backend(), tx); err != nil {
		if errors.Is(err, chain.ErrTxReverted) {
			return s.fail(fmt.Errorf("swap %s failed: %w", s.state.TxHash, err))
		}
		// The swap may still be mined; track it so it can be closed or automated later
		confirmed = false
		s.warn(fmt.Sprintf("swap %s submitted but not confirmed: %v", s.state.TxHash, err))
	}

	trade, err := s.store.RecordExecuted(trades.NewTrade{
		Wallet:          owner.Hex(),
		TxHash:          s.state.TxHash,
		Symbol:          s.intent.Symbol,
		TokenIn:         s.intent.TokenIn,
		TokenOut:        s.intent.TokenOut,
		EntryPrice:      s.intent.EntryPrice,
		TakeProfitPrice: s.intent.TakeProfit,
		StopLossPrice:   s.intent.StopLoss,
		Confidence:      s.intent.Confidence,
		Reasoning:       s.intent.Reasoning,
		AmountIn:        s.state.Quote.AmountIn,
		AmountOut:       s.state.Quote.AmountOut,
	})
	if err != nil {
		s.warn(fmt.Sprintf("swap %s executed but trade not recorded: %v", s.state.TxHash, err))
		s.state.Step = StepSuccess
		return s.state, nil
	}
	s.state.Trade = trade

	if s.intent.Automate && s.registrar != nil {
		if confirmed {
			s.state.Step = StepAutomation
			s.registerAutomation(ctx)
		} else {
			s.warn(fmt.Sprintf("automation skipped until the swap is confirmed, retry with trade %s", trade.ID))
		}
	}

	s.state.Step = StepSuccess
	s.log.Infow("Trade executed", "tx", s.state.TxHash, "trade", trade.ID)
	return s.state, nil
}

// registerAutomation attaches TP/SL tasks to the recorded trade. Failures are warnings.
func (s *Sequencer) registerAutomation(ctx context.Context) {
	trade := s.state.Trade
	params, err := AutomationParams(trade)
	if err != nil {
		s.warn(fmt.Sprintf("trade successful but automation failed: %v", err))
		return
	}

	reg, err := s.registrar.RegisterTrade(ctx, params)
	if err != nil {
		s.warn(fmt.Sprintf("trade successful but automation failed: %v", err))
		return
	}

	if err := s.store.AttachAutomation(trade.ID, reg); err != nil {
		s.warn(fmt.Sprintf("automation registered but not saved to trade: %v", err))
		return
	}

	s.state.Automation = reg
	if updated, err := s.store.Get(trade.ID); err == nil {
		s.state.Trade = updated
	}
	if reg.Degraded() {
		s.warn("automation service unreachable, TP/SL tasks are simulated locally")
	}
}

// RetryAutomation registers automation for the recorded trade if it has none
func (s *Sequencer) RetryAutomation(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Step != StepSuccess || s.state.Trade == nil {
		return s.state, fmt.Errorf("%w: retry automation in %s", ErrWrongStep, s.state.Step)
	}
	if s.registrar == nil {
		return s.state, fmt.Errorf("automation is not configured")
	}

	current, err := s.store.Get(s.state.Trade.ID)
	if err != nil {
		return s.state, err
	}
	s.state.Trade = current
	if current.HasAutomation() {
		s.state.Automation = current.Automation
		return s.state, nil
	}

	s.state.Warnings = nil
	s.state.Step = StepAutomation
	s.registerAutomation(ctx)
	s.state.Step = StepSuccess

	if s.state.Automation == nil {
		return s.state, fmt.Errorf("automation registration failed: %s", s.state.Warnings[len(s.state.Warnings)-1])
	}
	return s.state, nil
}

// Reset discards local state. Submitted transactions are unaffected.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Step: StepPreview}
}
