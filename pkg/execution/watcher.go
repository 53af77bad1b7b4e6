package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/price"
	"bnb-copilot/pkg/trades"
)

const (
	DefaultWatchInterval = 30 * time.Second // Poll task status every 30 seconds
	MinWatchInterval     = 10 * time.Second // Minimum interval to avoid rate limiting
)

// WatchedStore is the trade state the watcher reads and updates
type WatchedStore interface {
	Automated(wallet string) []*trades.Trade
	UpdatePrice(id string, price decimal.Decimal) error
	MarkClosed(id, exitTxHash string, pnl decimal.Decimal, reason trades.CloseReason) (*trades.Trade, error)
}

// TaskTracker reads and cancels automation tasks
type TaskTracker interface {
	Status(ctx context.Context, ref automation.TaskRef) (*automation.TaskStatus, error)
	Cancel(ctx context.Context, ref automation.TaskRef) error
}

// PriceSource returns the latest market price
type PriceSource interface {
	Latest(ctx context.Context) *price.Quote
}

// TradeCloser closes a live trade with an on-chain swap
type TradeCloser interface {
	Close(ctx context.Context, id string, reason trades.CloseReason) (*CloseResult, error)
}

// Event reports a trade closed by the watcher
type Event struct {
	TradeID     string             `json:"tradeId"`
	Reason      trades.CloseReason `json:"reason"`
	TaskID      string             `json:"taskId,omitempty"`
	Price       decimal.Decimal    `json:"price"`
	RealizedPnL decimal.Decimal    `json:"realizedPnl"`
	ExitTxHash  string             `json:"exitTxHash,omitempty"`
}

// Watcher follows automated trades until a TP or SL task fires.
// Trades whose tasks only exist locally are executed here when the
// price crosses a target.
type Watcher struct {
	store    WatchedStore
	tasks    TaskTracker
	prices   PriceSource
	closer   TradeCloser
	wallet   string
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewWatcher creates a watcher. prices and closer may be nil, in which case
// locally simulated tasks are only reported.
func NewWatcher(store WatchedStore, tasks TaskTracker, prices PriceSource, closer TradeCloser, wallet string, log *zap.SugaredLogger) *Watcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Watcher{
		store:    store,
		tasks:    tasks,
		prices:   prices,
		closer:   closer,
		wallet:   wallet,
		interval: DefaultWatchInterval,
		log:      log.With("component", "watcher"),
	}
}

// SetInterval sets the polling interval
func (w *Watcher) SetInterval(interval time.Duration) {
	if interval < MinWatchInterval {
		interval = MinWatchInterval
	}
	w.interval = interval
}

// Run checks trades on every tick until ctx is cancelled
func (w *Watcher) Run(ctx context.Context, onEvent func(Event)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Infow("Started watching automated trades", "wallet", w.wallet, "interval", w.interval)

	for {
		for _, ev := range w.Check(ctx) {
			if onEvent != nil {
				onEvent(ev)
			}
		}

		select {
		case <-ctx.Done():
			w.log.Info("Stopped watching automated trades")
			return nil
		case <-ticker.C:
		}
	}
}

// Check runs one pass over the wallet's automated trades
func (w *Watcher) Check(ctx context.Context) []Event {
	automated := w.store.Automated(w.wallet)
	if len(automated) == 0 {
		return nil
	}

	var quote *price.Quote
	if w.prices != nil {
		quote = w.prices.Latest(ctx)
	}

	events := make([]Event, 0)
	for _, trade := range automated {
		if ctx.Err() != nil {
			break
		}

		if quote != nil && quote.Source != price.SourceSynthetic {
			if err := w.store.UpdatePrice(trade.ID, quote.Price); err != nil {
				w.log.Warnw("Failed to update trade price", "trade", trade.ID, "error", err)
			}
		}

		ev, err := w.checkTrade(ctx, trade, quote)
		if err != nil {
			w.log.Warnw("Error checking trade", "trade", trade.ID, "error", err)
			continue
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

// checkTrade polls registered tasks and checks locally simulated ones against
// the market price. A pair may mix both modes.
func (w *Watcher) checkTrade(ctx context.Context, trade *trades.Trade, quote *price.Quote) (*Event, error) {
	local := make(map[automation.Kind]automation.TaskRef)
	unknown := false

	for _, ref := range trade.Automation.Refs() {
		if ref.IsFallback() {
			local[ref.Kind] = ref
			continue
		}

		status, err := w.tasks.Status(ctx, ref)
		if err != nil {
			return nil, err
		}
		if status.Stale {
			unknown = true
			continue
		}
		if status.Status != automation.StatusExecuted {
			continue
		}

		reason, target := trades.CloseTakeProfit, trade.TakeProfitPrice
		if ref.Kind == automation.KindStopLoss {
			reason, target = trades.CloseStopLoss, trade.StopLossPrice
		}

		pnl := trade.UnrealizedPnL(target)
		if _, err := w.store.MarkClosed(trade.ID, "", pnl, reason); err != nil {
			return nil, err
		}
		w.cancelSiblings(ctx, trade, ref.ID)

		w.log.Infow("Automation task executed", "trade", trade.ID, "task", ref.ID, "reason", reason)
		return &Event{TradeID: trade.ID, Reason: reason, TaskID: ref.ID, Price: target, RealizedPnL: pnl}, nil
	}

	if len(local) == 0 {
		return nil, nil
	}
	if unknown {
		// A registered task may already have sold the position
		w.log.Debugw("Remote task status unknown, skipping local execution", "trade", trade.ID)
		return nil, nil
	}
	return w.checkLocal(ctx, trade, quote, local)
}

// checkLocal executes a locally simulated TP/SL when the market price crosses it
func (w *Watcher) checkLocal(ctx context.Context, trade *trades.Trade, quote *price.Quote, local map[automation.Kind]automation.TaskRef) (*Event, error) {
	if quote == nil || quote.Source == price.SourceSynthetic {
		return nil, nil
	}

	var reason trades.CloseReason
	var kind automation.Kind
	switch trade.CheckTargets(quote.Price) {
	case trades.TargetTakeProfit:
		reason, kind = trades.CloseTakeProfit, automation.KindTakeProfit
	case trades.TargetStopLoss:
		reason, kind = trades.CloseStopLoss, automation.KindStopLoss
	default:
		return nil, nil
	}

	// The registered side is left to the service
	ref, ok := local[kind]
	if !ok {
		return nil, nil
	}

	if w.closer == nil {
		w.log.Warnw("Target reached but no closer configured", "trade", trade.ID, "reason", reason, "price", quote.Price)
		return nil, nil
	}

	w.log.Infow("Target reached, closing trade", "trade", trade.ID, "task", ref.ID, "reason", reason, "price", quote.Price)
	result, err := w.closer.Close(ctx, trade.ID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to close trade: %w", err)
	}

	return &Event{
		TradeID:     trade.ID,
		Reason:      reason,
		TaskID:      ref.ID,
		Price:       quote.Price,
		RealizedPnL: result.RealizedPnL,
		ExitTxHash:  result.ExitTxHash,
	}, nil
}

func (w *Watcher) cancelSiblings(ctx context.Context, trade *trades.Trade, executed string) {
	for _, ref := range trade.Automation.Refs() {
		if ref.ID == "" || ref.ID == executed {
			continue
		}
		if err := w.tasks.Cancel(ctx, ref); err != nil {
			w.log.Warnw("Failed to cancel sibling task", "task", ref.ID, "error", err)
		}
	}
}
