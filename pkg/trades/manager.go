package trades

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bnb-copilot/pkg/automation"
)

// Manager provides high-level operations for recorded trades
type Manager struct {
	storage *Storage
	now     func() time.Time
}

// NewManager creates a new trade manager
func NewManager(storagePath string) (*Manager, error) {
	storage, err := NewStorage(storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	return &Manager{
		storage: storage,
		now:     time.Now,
	}, nil
}

// Storage returns the underlying storage
func (m *Manager) Storage() *Storage {
	return m.storage
}

// NewTrade holds the inputs for recording a trade
type NewTrade struct {
	Wallet          string
	TxHash          string
	Symbol          string
	TokenIn         string
	TokenOut        string
	EntryPrice      decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
	Confidence      int
	Reasoning       string
	AmountIn        string
	AmountOut       string
}

func (m *Manager) build(nt NewTrade, status Status) (*Trade, error) {
	now := m.now().UTC()

	// Ids are <wallet>_<unix-ms>; bump the millisecond on collision
	ms := now.UnixMilli()
	id := fmt.Sprintf("%s_%d", nt.Wallet, ms)
	for {
		if _, err := m.storage.Get(id); err != nil {
			break
		}
		ms++
		id = fmt.Sprintf("%s_%d", nt.Wallet, ms)
	}

	value := decimal.Zero
	if out, err := decimal.NewFromString(nt.AmountOut); err == nil {
		value = out.Mul(nt.EntryPrice)
	}

	trade := &Trade{
		ID:              id,
		Wallet:          nt.Wallet,
		TxHash:          nt.TxHash,
		Symbol:          nt.Symbol,
		TokenIn:         nt.TokenIn,
		TokenOut:        nt.TokenOut,
		Status:          status,
		EntryPrice:      nt.EntryPrice,
		CurrentPrice:    nt.EntryPrice,
		TakeProfitPrice: nt.TakeProfitPrice,
		StopLossPrice:   nt.StopLossPrice,
		Confidence:      nt.Confidence,
		Reasoning:       nt.Reasoning,
		CreatedAt:       now,
		UpdatedAt:       now,
		AmountIn:        nt.AmountIn,
		AmountOut:       nt.AmountOut,
		TradeValue:      value,
	}

	if err := trade.Validate(); err != nil {
		return nil, err
	}
	return trade, nil
}

// RecordExecuted stores a live trade for a submitted swap
func (m *Manager) RecordExecuted(nt NewTrade) (*Trade, error) {
	if nt.TxHash == "" {
		return nil, fmt.Errorf("transaction hash is required for an executed trade")
	}

	trade, err := m.build(nt, StatusActive)
	if err != nil {
		return nil, err
	}

	if err := m.storage.Insert(trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// Monitor stores a watch-only trade with no on-chain swap
func (m *Manager) Monitor(nt NewTrade) (*Trade, error) {
	nt.TxHash = ""

	trade, err := m.build(nt, StatusMonitoring)
	if err != nil {
		return nil, err
	}

	if err := m.storage.Insert(trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// Get retrieves a trade by id
func (m *Manager) Get(id string) (*Trade, error) {
	return m.storage.Get(id)
}

// AttachAutomation records the TP/SL tasks registered for a trade
func (m *Manager) AttachAutomation(id string, reg *automation.Registration) error {
	return m.storage.Modify(id, func(trade *Trade) error {
		if trade.Status == StatusClosed {
			return fmt.Errorf("trade '%s' is already closed", id)
		}
		trade.Automation = reg
		trade.UpdatedAt = m.now().UTC()
		return nil
	})
}

// UpdatePrice records the latest observed price for a trade
func (m *Manager) UpdatePrice(id string, price decimal.Decimal) error {
	return m.storage.Modify(id, func(trade *Trade) error {
		trade.CurrentPrice = price
		trade.UpdatedAt = m.now().UTC()
		return nil
	})
}

// MarkClosed closes a trade with its exit transaction and realized PnL
func (m *Manager) MarkClosed(id, exitTxHash string, pnl decimal.Decimal, reason CloseReason) (*Trade, error) {
	var closed *Trade
	err := m.storage.Modify(id, func(trade *Trade) error {
		if trade.Status == StatusClosed {
			return fmt.Errorf("trade '%s' is already closed", id)
		}

		now := m.now().UTC()
		trade.Status = StatusClosed
		trade.ClosedAt = &now
		trade.UpdatedAt = now
		trade.ExitTxHash = exitTxHash
		trade.RealizedPnL = decimal.NewNullDecimal(pnl)
		trade.CloseReason = reason

		closed = trade.clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// Remove deletes a trade. Live trades must be closed first.
func (m *Manager) Remove(id string) error {
	trade, err := m.storage.Get(id)
	if err != nil {
		return err
	}

	if trade.IsLive() {
		return fmt.Errorf("cannot remove live trade '%s', close it first", id)
	}

	return m.storage.Delete(id)
}

func sameWallet(a, b string) bool {
	return strings.EqualFold(a, b)
}

// List returns the trades of a wallet newest first. An empty wallet lists all.
func (m *Manager) List(wallet string) []*Trade {
	all := m.storage.List()
	if wallet == "" {
		return all
	}

	trades := make([]*Trade, 0, len(all))
	for _, t := range all {
		if sameWallet(t.Wallet, wallet) {
			trades = append(trades, t)
		}
	}
	return trades
}

// ListByStatus returns the trades of a wallet with the given status
func (m *Manager) ListByStatus(wallet string, status Status) []*Trade {
	trades := make([]*Trade, 0)
	for _, t := range m.List(wallet) {
		if t.Status == status {
			trades = append(trades, t)
		}
	}
	return trades
}

// Automated returns live trades that have TP/SL tasks attached
func (m *Manager) Automated(wallet string) []*Trade {
	trades := make([]*Trade, 0)
	for _, t := range m.ListByStatus(wallet, StatusActive) {
		if t.HasAutomation() {
			trades = append(trades, t)
		}
	}
	return trades
}

// Stats summarises the trades of a wallet
func (m *Manager) Stats(wallet string) Stats {
	trades := m.List(wallet)
	stats := Stats{
		Total:    len(trades),
		TotalPnL: decimal.Zero,
	}

	confidence := 0
	for _, t := range trades {
		switch t.Status {
		case StatusActive:
			stats.Active++
		case StatusMonitoring:
			stats.Monitoring++
		case StatusClosed:
			stats.Closed++
		}
		if t.HasAutomation() {
			stats.Automated++
		}
		if t.RealizedPnL.Valid {
			stats.TotalPnL = stats.TotalPnL.Add(t.RealizedPnL.Decimal)
		}
		confidence += t.Confidence
	}

	if len(trades) > 0 {
		stats.AvgConfidence = float64(confidence) / float64(len(trades))
	}
	return stats
}
