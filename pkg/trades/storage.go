package trades

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bnb-copilot/pkg/automation"
)

const (
	DefaultStorageFileName = ".bnb-copilot-trades.json"

	// MaxTrades is the number of trades kept on disk
	MaxTrades = 50

	schemaVersion = 2
)

// Storage persists trades newest first in a single JSON file
type Storage struct {
	filePath string
	mu       sync.Mutex
	trades   []*Trade
	migrated bool
}

// TradeStorage represents the JSON structure for storage
type TradeStorage struct {
	Version int      `json:"version"`
	Trades  []*Trade `json:"trades"`
}

// NewStorage creates a new storage instance
func NewStorage(filePath string) (*Storage, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	storage := &Storage{
		filePath: filePath,
		trades:   make([]*Trade, 0),
	}

	storage.mu.Lock()
	defer storage.mu.Unlock()

	if err := storage.loadLocked(); err != nil {
		return nil, err
	}

	if storage.migrated {
		if err := storage.saveLocked(); err != nil {
			return nil, fmt.Errorf("failed to save migrated trades: %w", err)
		}
	}

	return storage, nil
}

// loadLocked re-reads the storage file, upgrading older layouts, so that
// trades written by other processes are seen. A missing file is empty.
// Callers hold s.mu.
func (s *Storage) loadLocked() error {
	s.migrated = false

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.trades = make([]*Trade, 0)
			return nil
		}
		return fmt.Errorf("failed to load trades: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		s.trades = make([]*Trade, 0)
		return nil
	}

	if data[0] == '[' {
		trades, err := migrateV1(data)
		if err != nil {
			return fmt.Errorf("failed to migrate trades: %w", err)
		}
		s.trades = trades
		s.migrated = true
		s.normalize()
		return nil
	}

	var tradeStorage TradeStorage
	if err := json.Unmarshal(data, &tradeStorage); err != nil {
		return fmt.Errorf("failed to unmarshal trades: %w", err)
	}
	if tradeStorage.Version > schemaVersion {
		return fmt.Errorf("trade file version %d is newer than supported version %d", tradeStorage.Version, schemaVersion)
	}

	s.trades = tradeStorage.Trades
	if s.trades == nil {
		s.trades = make([]*Trade, 0)
	}
	s.normalize()

	return nil
}

// normalize orders trades newest first and applies the cap
func (s *Storage) normalize() {
	sort.SliceStable(s.trades, func(i, j int) bool {
		return s.trades[i].CreatedAt.After(s.trades[j].CreatedAt)
	})
	if len(s.trades) > MaxTrades {
		s.trades = s.trades[:MaxTrades]
	}
}

// saveLocked writes trades to the storage file. Callers hold s.mu.
func (s *Storage) saveLocked() error {
	tradeStorage := TradeStorage{
		Version: schemaVersion,
		Trades:  s.trades,
	}

	data, err := json.MarshalIndent(tradeStorage, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trades: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write trades: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (s *Storage) indexOf(id string) int {
	for i, t := range s.trades {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Insert adds a trade at the front, dropping the oldest beyond MaxTrades
func (s *Storage) Insert(trade *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	if s.indexOf(trade.ID) >= 0 {
		return fmt.Errorf("trade '%s' already exists", trade.ID)
	}

	previous := s.trades
	s.trades = append([]*Trade{trade.clone()}, s.trades...)
	s.normalize()

	if err := s.saveLocked(); err != nil {
		s.trades = previous
		return err
	}
	return nil
}

// Get retrieves a trade by id
func (s *Storage) Get(id string) (*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	i := s.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.trades[i].clone(), nil
}

// Update replaces an existing trade
func (s *Storage) Update(trade *Trade) error {
	return s.Modify(trade.ID, func(t *Trade) error {
		*t = *trade.clone()
		return nil
	})
}

// Modify applies fn to the stored trade and saves it, all within one
// read-modify-write of the file. fn's error aborts without saving.
func (s *Storage) Modify(id string, fn func(*Trade) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	previous := s.trades[i]
	updated := previous.clone()
	if err := fn(updated); err != nil {
		return err
	}
	updated.ID = id
	s.trades[i] = updated

	if err := s.saveLocked(); err != nil {
		s.trades[i] = previous
		return err
	}
	return nil
}

// Delete removes a trade from storage
func (s *Storage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	previous := s.trades
	s.trades = append(append(make([]*Trade, 0, len(s.trades)-1), s.trades[:i]...), s.trades[i+1:]...)

	if err := s.saveLocked(); err != nil {
		s.trades = previous
		return err
	}
	return nil
}

// List returns all trades newest first. If the file cannot be read the
// last loaded trades are returned.
func (s *Storage) List() []*Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	// loadLocked leaves s.trades untouched on failure
	_ = s.loadLocked()

	trades := make([]*Trade, 0, len(s.trades))
	for _, t := range s.trades {
		trades = append(trades, t.clone())
	}
	return trades
}

// Count returns the total number of trades
func (s *Storage) Count() int {
	return len(s.List())
}

// GetFilePath returns the storage file path
func (s *Storage) GetFilePath() string {
	return s.filePath
}

// legacyTrade is the bare-array layout written by the browser app
type legacyTrade struct {
	ID                string          `json:"id"`
	TxHash            string          `json:"txHash"`
	Symbol            string          `json:"symbol"`
	Status            string          `json:"status"`
	EntryPrice        decimal.Decimal `json:"entryPrice"`
	CurrentPrice      decimal.Decimal `json:"currentPrice"`
	TakeProfitPrice   decimal.Decimal `json:"takeProfitPrice"`
	StopLossPrice     decimal.Decimal `json:"stopLossPrice"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning"`
	CreatedAt         string          `json:"createdAt"`
	AmountIn          string          `json:"amountIn"`
	AmountOut         string          `json:"amountOut"`
	TradeValue        decimal.Decimal `json:"tradeValue"`
	AutomationTaskIDs *struct {
		TakeProfitTaskID string `json:"takeProfitTaskId"`
		StopLossTaskID   string `json:"stopLossTaskId"`
	} `json:"automationTaskIds"`
}

func migrateV1(data []byte) ([]*Trade, error) {
	var legacy []legacyTrade
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}

	trades := make([]*Trade, 0, len(legacy))
	for _, l := range legacy {
		created, err := time.Parse(time.RFC3339Nano, l.CreatedAt)
		if err != nil {
			created = createdFromID(l.ID)
		}

		t := &Trade{
			ID:              l.ID,
			Wallet:          walletFromID(l.ID),
			TxHash:          l.TxHash,
			Symbol:          l.Symbol,
			Status:          legacyStatus(l.Status, l.TxHash),
			EntryPrice:      l.EntryPrice,
			CurrentPrice:    l.CurrentPrice,
			TakeProfitPrice: l.TakeProfitPrice,
			StopLossPrice:   l.StopLossPrice,
			Confidence:      int(l.Confidence),
			Reasoning:       l.Reasoning,
			CreatedAt:       created.UTC(),
			UpdatedAt:       created.UTC(),
			AmountIn:        l.AmountIn,
			AmountOut:       l.AmountOut,
			TradeValue:      l.TradeValue,
		}
		// Legacy trades always bought the base asset with the quote asset
		t.TokenOut, t.TokenIn = t.BaseQuote()

		if l.AutomationTaskIDs != nil {
			t.Automation = &automation.Registration{
				TakeProfit:   legacyRef(l.AutomationTaskIDs.TakeProfitTaskID, automation.KindTakeProfit),
				StopLoss:     legacyRef(l.AutomationTaskIDs.StopLossTaskID, automation.KindStopLoss),
				RegisteredAt: created.UTC(),
			}
		}

		trades = append(trades, t)
	}
	return trades, nil
}

func legacyRef(id string, kind automation.Kind) automation.TaskRef {
	mode := automation.ModeRegistered
	if strings.HasPrefix(id, "mock_") {
		mode = automation.ModeSimulatedFallback
	}
	return automation.TaskRef{ID: id, Kind: kind, Mode: mode}
}

func legacyStatus(status, txHash string) Status {
	switch Status(status) {
	case StatusActive, StatusMonitoring, StatusClosed:
		return Status(status)
	}
	if txHash != "" {
		return StatusActive
	}
	return StatusMonitoring
}

// walletFromID extracts the wallet from an id of the form <wallet>_<unix-ms>
func walletFromID(id string) string {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return ""
	}
	return id[:i]
}

func createdFromID(id string) time.Time {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(id[i+1:], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
