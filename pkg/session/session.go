// Package session builds the components a command needs from configuration.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"bnb-copilot/config"
	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/chain"
	"bnb-copilot/pkg/dex"
	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/price"
	"bnb-copilot/pkg/trades"
	ctypes "bnb-copilot/pkg/types"
)

// Session holds the configured components for one command invocation
type Session struct {
	Config     *config.Config
	Log        *zap.SugaredLogger
	Backend    chain.Backend
	Wallet     *chain.Wallet
	Engine     *dex.Engine
	Tokens     *ctypes.TokenSet
	Oracle     *price.Oracle
	Automation *automation.Client
	Trades     *trades.Manager

	client *ethclient.Client
}

// Open connects to the chain and creates every component. The wallet is
// nil when no private key is configured.
func Open(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Session, error) {
	network, err := networkFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := chain.Dial(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, err
	}

	s, err := build(cfg, network, client, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.client = client
	return s, nil
}

// build wires components onto an existing backend
func build(cfg *config.Config, network dex.Network, backend chain.Backend, log *zap.SugaredLogger) (*Session, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var wallet *chain.Wallet
	if cfg.PrivateKey != "" {
		w, err := chain.NewWallet(cfg.PrivateKey, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		wallet = w
	}

	engine := dex.NewEngine(dex.Config{
		Network: network,
		Gas: dex.GasLimits{
			Approve:    cfg.Gas.Approve,
			NativeSwap: cfg.Gas.NativeSwap,
			TokenSwap:  cfg.Gas.TokenSwap,
		},
		DeadlineSeconds: cfg.DeadlineSeconds,
	}, backend, wallet, log.With("component", "dex"))

	oracle, err := price.NewOracle(price.Config{
		SupraURL:      cfg.Oracle.SupraURL,
		SupraAPIKey:   cfg.Oracle.SupraAPIKey,
		TradingPair:   cfg.Oracle.TradingPair,
		CoinGeckoURL:  cfg.Oracle.CoinGeckoURL,
		CoinID:        cfg.Oracle.CoinID,
		FallbackPrice: cfg.Oracle.FallbackPrice,
		CacheTTL:      cfg.Oracle.CacheTTL,
		Timeout:       cfg.HTTPTimeout,
	}, log.With("component", "oracle"))
	if err != nil {
		return nil, err
	}

	manager, err := trades.NewManager(cfg.TradeStorePath)
	if err != nil {
		oracle.Close()
		return nil, err
	}

	tokens := ctypes.NewTokenSet(network.Wrapped, network.Stable)
	for symbol, addr := range cfg.Tokens {
		tokens.Add(ctypes.Token{Symbol: symbol, Name: strings.ToUpper(symbol), Address: common.HexToAddress(addr)})
	}

	s := &Session{
		Config:  cfg,
		Log:     log,
		Backend: backend,
		Wallet:  wallet,
		Engine:  engine,
		Tokens:  tokens,
		Oracle:  oracle,
		Trades:  manager,
	}

	if cfg.Automation.Enabled {
		s.Automation = automation.NewClient(automation.Config{
			BaseURL:       cfg.Automation.URL,
			APIKey:        cfg.Automation.APIKey,
			ModuleAddress: cfg.Automation.ModuleAddress,
			AllowFallback: cfg.Automation.AllowFallback,
			Timeout:       cfg.HTTPTimeout,
		}, automation.NewRegistry(), log.With("component", "automation"))
	}

	return s, nil
}

func networkFromConfig(cfg *config.Config) (dex.Network, error) {
	addrs := map[string]string{
		"router_address":  cfg.RouterAddress,
		"wrapped_address": cfg.WrappedAddress,
		"stable_address":  cfg.StableAddress,
	}
	for key, value := range addrs {
		if !common.IsHexAddress(value) {
			return dex.Network{}, fmt.Errorf("%s is not a valid address: %q", key, value)
		}
	}

	return dex.Network{
		Router:  common.HexToAddress(cfg.RouterAddress),
		Wrapped: common.HexToAddress(cfg.WrappedAddress),
		Stable:  common.HexToAddress(cfg.StableAddress),
	}, nil
}

// Close releases the chain connection and caches
func (s *Session) Close() {
	if s.Oracle != nil {
		s.Oracle.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

// RequireWallet returns the signing wallet or explains how to configure one
func (s *Session) RequireWallet() (*chain.Wallet, error) {
	if s.Wallet == nil {
		return nil, s.Config.RequireSigner()
	}
	return s.Wallet, nil
}

// Account returns the address trades are recorded against: the wallet, or
// the configured recipient for read-only use.
func (s *Session) Account() (common.Address, error) {
	if s.Wallet != nil {
		return s.Wallet.Address(), nil
	}
	if common.IsHexAddress(s.Config.Recipient) {
		return common.HexToAddress(s.Config.Recipient), nil
	}
	return common.Address{}, fmt.Errorf("no wallet configured: set private_key or recipient")
}

// Registrar returns the automation registrar, or nil when automation is disabled
func (s *Session) Registrar() execution.Registrar {
	if s.Automation == nil {
		return nil
	}
	return s.Automation
}

// Sequencer creates an execution sequencer for intent
func (s *Session) Sequencer(intent execution.Intent) *execution.Sequencer {
	return execution.NewSequencer(s.Engine, s.Trades, s.Registrar(), intent, s.Log)
}

// Closer creates a closer for recorded trades
func (s *Session) Closer() *execution.Closer {
	var canceller execution.Canceller
	if s.Automation != nil {
		canceller = s.Automation
	}
	return execution.NewCloser(s.Engine, s.Trades, canceller, s.Tokens, s.Config.CloseSlippagePercent, s.Log)
}

// Watcher creates a watcher over the automated trades of wallet
func (s *Session) Watcher(wallet string) (*execution.Watcher, error) {
	if s.Automation == nil {
		return nil, fmt.Errorf("automation is disabled")
	}

	var closer execution.TradeCloser
	if s.Wallet != nil {
		closer = s.Closer()
	}

	w := execution.NewWatcher(s.Trades, s.Automation, s.Oracle, closer, wallet, s.Log)
	if s.Config.Automation.WatchInterval > 0 {
		w.SetInterval(s.Config.Automation.WatchInterval)
	}
	return w, nil
}

// ResolveToken looks up a symbol or address. Unlisted addresses take their
// on-chain symbol, or keep the shortened address when it cannot be read.
func (s *Session) ResolveToken(ctx context.Context, symbolOrAddress string) (ctypes.Token, error) {
	token, err := s.Tokens.Lookup(symbolOrAddress)
	if err != nil {
		return ctypes.Token{}, err
	}
	if s.Tokens.Known(token.Address) {
		return token, nil
	}

	symbol, err := s.Engine.Symbol(ctx, token.Address)
	if err != nil || strings.TrimSpace(symbol) == "" {
		s.Log.Debugw("Using address as token symbol", "token", token.Address.Hex(), "error", err)
		return token, nil
	}
	token.Symbol = strings.TrimSpace(symbol)
	token.Name = token.Symbol
	return token, nil
}

// ActiveTasks refreshes the status of every task attached to the wallet's
// automated trades and returns the ones still active. Tasks whose status
// cannot be read are skipped.
func (s *Session) ActiveTasks(ctx context.Context, wallet string) ([]automation.TaskStatus, error) {
	if s.Automation == nil {
		return nil, fmt.Errorf("automation is disabled")
	}

	for _, t := range s.Trades.Automated(wallet) {
		for _, ref := range t.Automation.Refs() {
			if _, err := s.Automation.Status(ctx, ref); err != nil {
				s.Log.Debugw("Skipping task", "trade", t.ID, "task", ref.ID, "error", err)
			}
		}
	}
	return s.Automation.Registry().Active(), nil
}
