package trades

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/automation"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "trades.json"))
	require.NoError(t, err)

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m
}

func newTrade(wallet string) NewTrade {
	return NewTrade{
		Wallet:          wallet,
		TxHash:          "0xfeed",
		Symbol:          "WBNB/USDT",
		TokenIn:         "USDT",
		TokenOut:        "WBNB",
		EntryPrice:      decimal.RequireFromString("600"),
		TakeProfitPrice: decimal.RequireFromString("660"),
		StopLossPrice:   decimal.RequireFromString("570"),
		Confidence:      80,
		Reasoning:       "test",
		AmountIn:        "10",
		AmountOut:       "0.016",
	}
}

func TestRecordExecuted(t *testing.T) {
	m := newTestManager(t)

	trade, err := m.RecordExecuted(newTrade("0xW"))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, trade.Status)
	assert.Regexp(t, `^0xW_\d+$`, trade.ID)
	assert.True(t, trade.TradeValue.Equal(decimal.RequireFromString("9.6")))
	assert.Nil(t, trade.Automation)
	assert.True(t, trade.IsLive())

	nt := newTrade("0xW")
	nt.TxHash = ""
	_, err = m.RecordExecuted(nt)
	assert.Error(t, err)
}

func TestRecordValidatesTargets(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		mod  func(*NewTrade)
	}{
		{"zero entry", func(nt *NewTrade) { nt.EntryPrice = decimal.Zero }},
		{"take profit below entry", func(nt *NewTrade) { nt.TakeProfitPrice = decimal.RequireFromString("590") }},
		{"stop loss above entry", func(nt *NewTrade) { nt.StopLossPrice = decimal.RequireFromString("610") }},
		{"stop loss equals entry", func(nt *NewTrade) { nt.StopLossPrice = decimal.RequireFromString("600") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt := newTrade("0xW")
			tt.mod(&nt)
			_, err := m.RecordExecuted(nt)
			assert.ErrorIs(t, err, ErrInvalidTargets)
		})
	}
	assert.Equal(t, 0, m.Storage().Count())
}

func TestMonitorAndRemove(t *testing.T) {
	m := newTestManager(t)

	paper, err := m.Monitor(newTrade("0xW"))
	require.NoError(t, err)
	assert.Equal(t, StatusMonitoring, paper.Status)
	assert.Empty(t, paper.TxHash)

	live, err := m.RecordExecuted(newTrade("0xW"))
	require.NoError(t, err)

	assert.Error(t, m.Remove(live.ID))
	require.NoError(t, m.Remove(paper.ID))
	assert.Len(t, m.List("0xW"), 1)
}

func TestAttachAutomationAndClose(t *testing.T) {
	m := newTestManager(t)

	trade, err := m.RecordExecuted(newTrade("0xW"))
	require.NoError(t, err)

	reg := &automation.Registration{
		TakeProfit: automation.TaskRef{ID: "tp", Kind: automation.KindTakeProfit, Mode: automation.ModeRegistered},
		StopLoss:   automation.TaskRef{ID: "sl", Kind: automation.KindStopLoss, Mode: automation.ModeRegistered},
	}
	require.NoError(t, m.AttachAutomation(trade.ID, reg))
	assert.Len(t, m.Automated("0xw"), 1)

	closed, err := m.MarkClosed(trade.ID, "0xexit", decimal.RequireFromString("1.25"), CloseTakeProfit)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)
	assert.Equal(t, CloseTakeProfit, closed.CloseReason)

	_, err = m.MarkClosed(trade.ID, "0xexit", decimal.Zero, CloseManual)
	assert.Error(t, err)
	assert.Error(t, m.AttachAutomation(trade.ID, reg))

	// Closed trades can be removed
	require.NoError(t, m.Remove(trade.ID))
}

func TestListFiltersByWallet(t *testing.T) {
	m := newTestManager(t)

	_, err := m.RecordExecuted(newTrade("0xA"))
	require.NoError(t, err)
	_, err = m.Monitor(newTrade("0xB"))
	require.NoError(t, err)
	_, err = m.Monitor(newTrade("0xA"))
	require.NoError(t, err)

	assert.Len(t, m.List("0xa"), 2)
	assert.Len(t, m.List(""), 3)
	assert.Len(t, m.ListByStatus("0xA", StatusMonitoring), 1)

	// Newest first
	list := m.List("0xA")
	assert.Equal(t, StatusMonitoring, list[0].Status)
}

func TestStats(t *testing.T) {
	m := newTestManager(t)

	a, err := m.RecordExecuted(newTrade("0xW"))
	require.NoError(t, err)
	b, err := m.RecordExecuted(newTrade("0xW"))
	require.NoError(t, err)
	nt := newTrade("0xW")
	nt.Confidence = 50
	_, err = m.Monitor(nt)
	require.NoError(t, err)

	_, err = m.MarkClosed(a.ID, "0x1", decimal.RequireFromString("2.5"), CloseManual)
	require.NoError(t, err)
	_, err = m.MarkClosed(b.ID, "0x2", decimal.RequireFromString("-1"), CloseStopLoss)
	require.NoError(t, err)

	stats := m.Stats("0xW")
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Closed)
	assert.Equal(t, 1, stats.Monitoring)
	assert.Equal(t, 0, stats.Active)
	assert.InDelta(t, 70.0, stats.AvgConfidence, 0.001)
	assert.True(t, stats.TotalPnL.Equal(decimal.RequireFromString("1.5")))
}

func TestCheckTargets(t *testing.T) {
	trade := &Trade{
		EntryPrice:      decimal.NewFromInt(600),
		TakeProfitPrice: decimal.NewFromInt(650),
		StopLossPrice:   decimal.NewFromInt(570),
		AmountOut:       "2",
	}

	assert.Equal(t, TargetTakeProfit, trade.CheckTargets(decimal.NewFromInt(650)))
	assert.Equal(t, TargetTakeProfit, trade.CheckTargets(decimal.NewFromInt(700)))
	assert.Equal(t, TargetStopLoss, trade.CheckTargets(decimal.NewFromInt(570)))
	assert.Equal(t, TargetNone, trade.CheckTargets(decimal.NewFromInt(600)))
	assert.True(t, trade.UnrealizedPnL(decimal.NewFromInt(610)).Equal(decimal.NewFromInt(20)))
}

func TestManagersShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")

	watcher, err := NewManager(path)
	require.NoError(t, err)
	cli, err := NewManager(path)
	require.NoError(t, err)
	cli.now = func() time.Time { return time.Now().Add(time.Minute) }

	first, err := watcher.RecordExecuted(newTrade("0xabc"))
	require.NoError(t, err)

	second, err := cli.RecordExecuted(newTrade("0xabc"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The long-running manager sees the other trade and keeps it on write
	require.NoError(t, watcher.UpdatePrice(first.ID, decimal.RequireFromString("610")))
	assert.Len(t, watcher.List("0xabc"), 2)

	reopened, err := NewManager(path)
	require.NoError(t, err)
	list := reopened.List("")
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	got, err := reopened.Get(first.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentPrice.Equal(decimal.RequireFromString("610")))

	// A close from one manager is visible to the other
	_, err = cli.MarkClosed(first.ID, "0xexit", decimal.NewFromInt(1), CloseManual)
	require.NoError(t, err)
	_, err = watcher.MarkClosed(first.ID, "0xexit", decimal.NewFromInt(1), CloseManual)
	assert.ErrorContains(t, err, "already closed")
}
