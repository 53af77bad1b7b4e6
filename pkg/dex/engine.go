package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"bnb-copilot/pkg/chain"
	ctypes "bnb-copilot/pkg/types"
)

var (
	// ErrInvalidParams is returned for malformed swap parameters
	ErrInvalidParams = errors.New("invalid swap parameters")

	// ErrInvalidAmount is returned for amounts that cannot be parsed at the token's precision
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrQuoteFailed is returned when any router or token read fails during quoting
	ErrQuoteFailed = errors.New("failed to get swap quote")

	// ErrNoSigner is returned when a write is attempted without a wallet
	ErrNoSigner = errors.New("no signing wallet configured")
)

// NativeDecimals is the precision of the native coin
const NativeDecimals uint8 = 18

// DefaultDeadline is added to the current time when a swap has no deadline
const DefaultDeadline = 1200 * time.Second

// PriceImpactPlaceholder is reported until reserves are read to compute real impact
const PriceImpactPlaceholder = 0.1

// GasLimits are the fixed gas ceilings per router call
type GasLimits struct {
	Approve    uint64
	NativeSwap uint64
	TokenSwap  uint64
}

// DefaultGasLimits matches the values used on BSC mainnet
var DefaultGasLimits = GasLimits{
	Approve:    50000,
	NativeSwap: 180000,
	TokenSwap:  200000,
}

// SwapParams describes a requested swap
type SwapParams struct {
	TokenIn         common.Address
	TokenOut        common.Address
	AmountIn        string
	SlippagePercent float64
	Recipient       common.Address
	Deadline        int64
	UseNative       bool
}

// SwapQuote is the expected result of a swap
type SwapQuote struct {
	AmountIn        string           `json:"amountIn"`
	AmountOut       string           `json:"amountOut"`
	AmountOutMin    string           `json:"amountOutMin"`
	AmountInRaw     *big.Int         `json:"-"`
	AmountOutRaw    *big.Int         `json:"-"`
	AmountOutMinRaw *big.Int         `json:"-"`
	DecimalsIn      uint8            `json:"decimalsIn"`
	DecimalsOut     uint8            `json:"decimalsOut"`
	PriceImpact     float64          `json:"priceImpact"`
	Route           []common.Address `json:"route"`
}

// ApprovalStatus reports whether the router may spend the input amount
type ApprovalStatus struct {
	NeedsApproval    bool   `json:"needsApproval"`
	CurrentAllowance string `json:"currentAllowance"`
}

// Config configures an Engine
type Config struct {
	Network         Network
	Gas             GasLimits
	DeadlineSeconds int64
}

// Engine quotes and submits router swaps
type Engine struct {
	network  Network
	gas      GasLimits
	deadline time.Duration
	backend  chain.Backend
	wallet   *chain.Wallet
	router   *chain.Contract
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewEngine creates a swap engine. wallet may be nil for read-only use.
func NewEngine(cfg Config, backend chain.Backend, wallet *chain.Wallet, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	gas := cfg.Gas
	if gas.Approve == 0 {
		gas.Approve = DefaultGasLimits.Approve
	}
	if gas.NativeSwap == 0 {
		gas.NativeSwap = DefaultGasLimits.NativeSwap
	}
	if gas.TokenSwap == 0 {
		gas.TokenSwap = DefaultGasLimits.TokenSwap
	}
	deadline := DefaultDeadline
	if cfg.DeadlineSeconds > 0 {
		deadline = time.Duration(cfg.DeadlineSeconds) * time.Second
	}

	return &Engine{
		network:  cfg.Network,
		gas:      gas,
		deadline: deadline,
		backend:  backend,
		wallet:   wallet,
		router:   chain.NewContract(cfg.Network.Router, RouterABI, backend),
		log:      log,
		now:      time.Now,
	}
}

// Network returns the routing addresses
func (e *Engine) Network() Network {
	return e.network
}

// Backend returns the chain backend the engine talks to
func (e *Engine) Backend() chain.Backend {
	return e.backend
}

// Wallet returns the signing wallet, or nil
func (e *Engine) Wallet() *chain.Wallet {
	return e.wallet
}

// Decimals returns a token's precision, 18 for the native coin without a call
func (e *Engine) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	if token == ctypes.NativeAddress {
		return NativeDecimals, nil
	}
	return chain.NewERC20(token, e.backend).Decimals(ctx)
}

func (e *Engine) validate(p SwapParams) error {
	if !ValidSlippage(p.SlippagePercent) {
		return fmt.Errorf("%w: slippage %v outside 0..100", ErrInvalidParams, p.SlippagePercent)
	}
	if e.network.Normalize(p.TokenIn) == e.network.Normalize(p.TokenOut) {
		return fmt.Errorf("%w: input and output token are the same", ErrInvalidParams)
	}
	return nil
}

// Quote reads the expected output for a swap and applies slippage
func (e *Engine) Quote(ctx context.Context, p SwapParams) (*SwapQuote, error) {
	if err := e.validate(p); err != nil {
		return nil, err
	}

	decimalsIn, err := e.Decimals(ctx, p.TokenIn)
	if err != nil {
		return nil, e.quoteFailed("decimals", p, err)
	}
	decimalsOut, err := e.Decimals(ctx, p.TokenOut)
	if err != nil {
		return nil, e.quoteFailed("decimals", p, err)
	}

	amountIn, err := ParseUnits(p.AmountIn, decimalsIn)
	if err != nil {
		return nil, err
	}

	path := e.network.BuildPath(p.TokenIn, p.TokenOut)
	quote := &SwapQuote{
		AmountIn:        FormatUnits(amountIn, decimalsIn),
		AmountInRaw:     amountIn,
		AmountOutRaw:    big.NewInt(0),
		AmountOutMinRaw: big.NewInt(0),
		DecimalsIn:      decimalsIn,
		DecimalsOut:     decimalsOut,
		PriceImpact:     PriceImpactPlaceholder,
		Route:           path,
	}

	if amountIn.Sign() == 0 {
		quote.AmountOut = "0"
		quote.AmountOutMin = "0"
		return quote, nil
	}

	out, err := e.router.Call(ctx, methodGetAmountsOut, amountIn, path)
	if err != nil {
		return nil, e.quoteFailed(methodGetAmountsOut, p, err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, e.quoteFailed(methodGetAmountsOut, p, fmt.Errorf("unexpected result %T", out[0]))
	}
	expected := amounts[len(amounts)-1]

	minOut, err := MinimumOut(expected, p.SlippagePercent)
	if err != nil {
		return nil, err
	}

	quote.AmountOutRaw = expected
	quote.AmountOutMinRaw = minOut
	quote.AmountOut = FormatUnits(expected, decimalsOut)
	quote.AmountOutMin = FormatUnits(minOut, decimalsOut)

	e.log.Debugw("Quote ready",
		"amountIn", quote.AmountIn,
		"amountOut", quote.AmountOut,
		"amountOutMin", quote.AmountOutMin,
		"hops", len(path))

	return quote, nil
}

// quoteFailed logs the cause and returns the generic quote error carrying its text
func (e *Engine) quoteFailed(step string, p SwapParams, cause error) error {
	e.log.Warnw("Quote read failed",
		"step", step,
		"tokenIn", p.TokenIn.Hex(),
		"tokenOut", p.TokenOut.Hex(),
		"error", cause)
	return fmt.Errorf("%w: %s: %v", ErrQuoteFailed, step, cause)
}

// CheckApproval reports whether owner must approve the router for amount of token
func (e *Engine) CheckApproval(ctx context.Context, token, owner common.Address, amount string) (*ApprovalStatus, error) {
	if token == ctypes.NativeAddress {
		return &ApprovalStatus{NeedsApproval: false, CurrentAllowance: "unlimited"}, nil
	}

	erc20 := chain.NewERC20(token, e.backend)
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}

	required, err := ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	allowance, err := erc20.Allowance(ctx, owner, e.network.Router)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}

	return &ApprovalStatus{
		NeedsApproval:    allowance.Cmp(required) < 0,
		CurrentAllowance: FormatUnits(allowance, decimals),
	}, nil
}

// Approve submits approve(router, amount) for token and returns the signed transaction
func (e *Engine) Approve(ctx context.Context, token common.Address, amount string) (*types.Transaction, error) {
	if e.wallet == nil {
		return nil, ErrNoSigner
	}
	if token == ctypes.NativeAddress {
		return nil, fmt.Errorf("%w: native coin needs no approval", ErrInvalidParams)
	}

	erc20 := chain.NewERC20(token, e.backend)
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}

	value, err := ParseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}

	data, err := erc20.PackApprove(e.network.Router, value)
	if err != nil {
		return nil, err
	}

	tx, err := e.wallet.Send(ctx, e.backend, token, nil, e.gas.Approve, data)
	if err != nil {
		return nil, err
	}

	e.log.Infow("Approval submitted", "token", token.Hex(), "amount", amount, "tx", tx.Hash().Hex())
	return tx, nil
}

// isNative reports whether a swap leg is treated as the native coin
func (e *Engine) isNative(token common.Address, useNative bool) bool {
	if token == ctypes.NativeAddress {
		return true
	}
	return useNative && token == e.network.Wrapped
}

// Swap submits the router swap for a previously computed quote
func (e *Engine) Swap(ctx context.Context, p SwapParams, quote *SwapQuote) (*types.Transaction, error) {
	if e.wallet == nil {
		return nil, ErrNoSigner
	}
	if err := e.validate(p); err != nil {
		return nil, err
	}
	if quote == nil || quote.AmountInRaw == nil || quote.AmountInRaw.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}

	recipient := p.Recipient
	if recipient == (common.Address{}) {
		recipient = e.wallet.Address()
	}

	deadline := p.Deadline
	if deadline == 0 {
		deadline = e.now().Add(e.deadline).Unix()
	}
	deadlineBig := big.NewInt(deadline)

	nativeIn := e.isNative(p.TokenIn, p.UseNative)
	nativeOut := e.isNative(p.TokenOut, p.UseNative)
	path := quote.Route

	var (
		method string
		args   []interface{}
		value  *big.Int
		gas    uint64
	)
	switch {
	case nativeIn && !nativeOut:
		method = methodExactETHForTokens
		args = []interface{}{quote.AmountOutMinRaw, path, recipient, deadlineBig}
		value = quote.AmountInRaw
		gas = e.gas.NativeSwap
	case !nativeIn && nativeOut:
		method = methodTokensForETH
		args = []interface{}{quote.AmountInRaw, quote.AmountOutMinRaw, path, recipient, deadlineBig}
		gas = e.gas.NativeSwap
	default:
		method = methodTokensForTokens
		args = []interface{}{quote.AmountInRaw, quote.AmountOutMinRaw, path, recipient, deadlineBig}
		gas = e.gas.TokenSwap
	}

	data, err := e.router.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	tx, err := e.wallet.Send(ctx, e.backend, e.network.Router, value, gas, data)
	if err != nil {
		return nil, err
	}

	e.log.Infow("Swap submitted",
		"method", method,
		"amountIn", quote.AmountIn,
		"amountOutMin", quote.AmountOutMin,
		"tx", tx.Hash().Hex())

	return tx, nil
}

// Balance returns the human balance of token held by account
func (e *Engine) Balance(ctx context.Context, token, account common.Address) (string, error) {
	if token == ctypes.NativeAddress {
		bal, err := e.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return "", fmt.Errorf("failed to get balance: %w", err)
		}
		return FormatUnits(bal, NativeDecimals), nil
	}

	erc20 := chain.NewERC20(token, e.backend)
	decimals, err := erc20.Decimals(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read token decimals: %w", err)
	}
	bal, err := erc20.BalanceOf(ctx, account)
	if err != nil {
		return "", fmt.Errorf("failed to get token balance: %w", err)
	}
	return FormatUnits(bal, decimals), nil
}

// Symbol reads a token's on-chain symbol
func (e *Engine) Symbol(ctx context.Context, token common.Address) (string, error) {
	if token == ctypes.NativeAddress {
		return "BNB", nil
	}
	symbol, err := chain.NewERC20(token, e.backend).Symbol(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read token symbol: %w", err)
	}
	return symbol, nil
}
