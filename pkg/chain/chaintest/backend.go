// Package chaintest provides an in-memory chain backend for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Call is a decoded contract invocation
type Call struct {
	From   common.Address
	To     common.Address
	Value  *big.Int
	Method string
	Args   []interface{}
}

// Handler answers a decoded call. Outputs are ignored for transactions.
type Handler func(call Call) ([]interface{}, error)

// SentTx is a submitted transaction with its decoded call, if known
type SentTx struct {
	Tx   *types.Transaction
	Call *Call
}

type contract struct {
	abi      abi.ABI
	handlers map[string]Handler
}

// Backend is a fake chain.Backend that routes calls to registered handlers
type Backend struct {
	mu        sync.Mutex
	contracts map[common.Address]*contract
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	reverted  map[string]bool
	pending   map[string]bool
	receipts  map[common.Hash]*types.Receipt
	sent      []SentTx
	calls     []Call

	GasPrice *big.Int
	CallErr  error
	SendErr  error
}

// NewBackend creates an empty fake backend
func NewBackend() *Backend {
	return &Backend{
		contracts: make(map[common.Address]*contract),
		balances:  make(map[common.Address]*big.Int),
		nonces:    make(map[common.Address]uint64),
		reverted:  make(map[string]bool),
		pending:   make(map[string]bool),
		receipts:  make(map[common.Hash]*types.Receipt),
		GasPrice:  big.NewInt(3_000_000_000),
	}
}

// Handle registers a handler for method on the contract at addr
func (b *Backend) Handle(addr common.Address, contractABI abi.ABI, method string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.contracts[addr]
	if !ok {
		c = &contract{abi: contractABI, handlers: make(map[string]Handler)}
		b.contracts[addr] = c
	}
	c.handlers[method] = h
}

// SetBalance sets the native balance of an account
func (b *Backend) SetBalance(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(amount)
}

// RevertMethod makes every later transaction calling method mine with a failed status
func (b *Backend) RevertMethod(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reverted[method] = true
}

// PendMethod makes every later transaction calling method stay unmined
func (b *Backend) PendMethod(method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[method] = true
}

// Sent returns the submitted transactions in order
func (b *Backend) Sent() []SentTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SentTx, len(b.sent))
	copy(out, b.sent)
	return out
}

// SentMethods returns the decoded method names of submitted transactions
func (b *Backend) SentMethods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	methods := make([]string, 0, len(b.sent))
	for _, s := range b.sent {
		if s.Call != nil {
			methods = append(methods, s.Call.Method)
		} else {
			methods = append(methods, "")
		}
	}
	return methods
}

// Calls returns the decoded read calls in order
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Backend) decode(to common.Address, data []byte) (*contract, *abi.Method, []interface{}, error) {
	c, ok := b.contracts[to]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no contract registered at %s", to.Hex())
	}
	if len(data) < 4 {
		return nil, nil, nil, fmt.Errorf("calldata too short")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, nil, err
	}
	return c, method, args, nil
}

// CallContract implements chain.Backend
func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	if b.CallErr != nil {
		err := b.CallErr
		b.mu.Unlock()
		return nil, err
	}
	if msg.To == nil {
		b.mu.Unlock()
		return nil, errors.New("contract creation not supported")
	}
	c, method, args, err := b.decode(*msg.To, msg.Data)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	h, ok := c.handlers[method.Name]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("execution reverted: no handler for %s", method.Name)
	}
	call := Call{From: msg.From, To: *msg.To, Value: msg.Value, Method: method.Name, Args: args}
	b.calls = append(b.calls, call)
	b.mu.Unlock()

	out, err := h(call)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// CodeAt implements chain.Backend
func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

// BalanceAt implements chain.Backend
func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

// PendingNonceAt implements chain.Backend
func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

// SuggestGasPrice implements chain.Backend
func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

// SendTransaction implements chain.Backend. Registered handlers see the decoded call.
func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	if b.SendErr != nil {
		err := b.SendErr
		b.mu.Unlock()
		return err
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("invalid sender: %w", err)
	}
	b.nonces[from] = tx.Nonce() + 1

	var (
		call    *Call
		handler Handler
	)
	if tx.To() != nil {
		if c, method, args, err := b.decode(*tx.To(), tx.Data()); err == nil {
			call = &Call{From: from, To: *tx.To(), Value: tx.Value(), Method: method.Name, Args: args}
			handler = c.handlers[method.Name]
		}
	}

	status := types.ReceiptStatusSuccessful
	if call != nil && b.reverted[call.Method] {
		status = types.ReceiptStatusFailed
	}
	if call == nil || !b.pending[call.Method] {
		b.receipts[tx.Hash()] = &types.Receipt{
			Status:      status,
			TxHash:      tx.Hash(),
			BlockNumber: big.NewInt(int64(len(b.sent) + 1)),
			GasUsed:     tx.Gas(),
		}
	}
	b.sent = append(b.sent, SentTx{Tx: tx, Call: call})
	b.mu.Unlock()

	if handler != nil && status == types.ReceiptStatusSuccessful {
		if _, err := handler(*call); err != nil {
			return err
		}
	}
	return nil
}

// TransactionReceipt implements chain.Backend. Sent transactions are mined immediately
// unless their method was pended.
func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
