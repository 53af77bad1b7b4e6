package trades

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/automation"
)

func sampleTrade(i int) *Trade {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute)
	return &Trade{
		ID:              fmt.Sprintf("0xabc_%d", created.UnixMilli()),
		Wallet:          "0xabc",
		Symbol:          "WBNB/USDT",
		Status:          StatusMonitoring,
		EntryPrice:      decimal.NewFromInt(600),
		TakeProfitPrice: decimal.NewFromInt(650),
		StopLossPrice:   decimal.NewFromInt(570),
		CreatedAt:       created,
	}
}

func TestStorageCapsAndKeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	s, err := NewStorage(path)
	require.NoError(t, err)

	for i := 0; i < MaxTrades+7; i++ {
		require.NoError(t, s.Insert(sampleTrade(i)))
		assert.LessOrEqual(t, s.Count(), MaxTrades)
	}

	list := s.List()
	require.Len(t, list, MaxTrades)
	assert.Equal(t, sampleTrade(MaxTrades+6).ID, list[0].ID)
	assert.Equal(t, sampleTrade(7).ID, list[len(list)-1].ID)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].CreatedAt.After(list[i].CreatedAt))
	}

	// Reload from disk
	reloaded, err := NewStorage(path)
	require.NoError(t, err)
	assert.Equal(t, MaxTrades, reloaded.Count())
	assert.Equal(t, list[0].ID, reloaded.List()[0].ID)
}

func TestStorageCRUD(t *testing.T) {
	s, err := NewStorage(filepath.Join(t.TempDir(), "trades.json"))
	require.NoError(t, err)

	trade := sampleTrade(1)
	require.NoError(t, s.Insert(trade))
	assert.Error(t, s.Insert(trade))

	got, err := s.Get(trade.ID)
	require.NoError(t, err)
	got.Reasoning = "updated"
	require.NoError(t, s.Update(got))

	// Returned trades are copies
	got.Reasoning = "mutated"
	again, err := s.Get(trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", again.Reasoning)

	require.NoError(t, s.Delete(trade.ID))
	_, err = s.Get(trade.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(trade.ID), ErrNotFound)
}

func TestStorageWritesVersionedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trades.json")
	s, err := NewStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.Insert(sampleTrade(1)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 2`)
	assert.Contains(t, string(data), `"entryPrice": "600"`)
}

const legacyFile = `[
  {
    "id": "0xAbC_1735689600000",
    "txHash": "0xdeadbeef",
    "symbol": "WBNB/USDT",
    "status": "active",
    "entryPrice": 612.5,
    "currentPrice": 612.5,
    "takeProfitPrice": 650,
    "stopLossPrice": 590.25,
    "confidence": 78,
    "reasoning": "breakout",
    "createdAt": "2025-01-01T00:00:00.000Z",
    "amountIn": "10",
    "amountOut": "0.0163",
    "tradeValue": 9.98375,
    "automationTaskIds": {
      "takeProfitTaskId": "mock_take_profit_1735689600000_abc123def",
      "stopLossTaskId": "task-77"
    }
  },
  {
    "id": "0xAbC_1735603200000",
    "txHash": "",
    "symbol": "WBNB/USDT",
    "status": "monitoring",
    "entryPrice": 600,
    "currentPrice": 600,
    "takeProfitPrice": 640,
    "stopLossPrice": 580,
    "confidence": 60,
    "reasoning": "watch",
    "createdAt": "2024-12-31T00:00:00.000Z",
    "amountIn": "5",
    "amountOut": "0.0083",
    "tradeValue": 4.98
  }
]`

func TestStorageMigratesLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyFile), 0600))

	s, err := NewStorage(path)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)

	live := list[0]
	assert.Equal(t, "0xAbC_1735689600000", live.ID)
	assert.Equal(t, "0xAbC", live.Wallet)
	assert.Equal(t, StatusActive, live.Status)
	assert.True(t, live.EntryPrice.Equal(decimal.RequireFromString("612.5")))
	assert.Equal(t, "WBNB", live.TokenOut)
	assert.Equal(t, "USDT", live.TokenIn)
	assert.Equal(t, 78, live.Confidence)
	require.NotNil(t, live.Automation)
	assert.Equal(t, automation.ModeSimulatedFallback, live.Automation.TakeProfit.Mode)
	assert.Equal(t, automation.ModeRegistered, live.Automation.StopLoss.Mode)
	assert.True(t, live.Automation.Degraded())

	assert.Equal(t, StatusMonitoring, list[1].Status)
	assert.Nil(t, list[1].Automation)

	// The upgraded layout is written back
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 2`)
}

func TestStorageRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3,"trades":[]}`), 0600))

	_, err := NewStorage(path)
	assert.Error(t, err)
}
