package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/chain/chaintest"
)

var tokenAddr = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewWalletFromKey(key, 56)
}

func TestNewWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, input := range []string{hexKey, "0x" + hexKey} {
		w, err := NewWallet(input, 56)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), w.Address())
	}

	_, err = NewWallet("not-a-key", 56)
	assert.Error(t, err)
}

func TestERC20Reads(t *testing.T) {
	backend := chaintest.NewBackend()
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	backend.Handle(tokenAddr, erc20ABI, "decimals", func(chaintest.Call) ([]interface{}, error) {
		return []interface{}{uint8(18)}, nil
	})
	backend.Handle(tokenAddr, erc20ABI, "symbol", func(chaintest.Call) ([]interface{}, error) {
		return []interface{}{"USDT"}, nil
	})
	backend.Handle(tokenAddr, erc20ABI, "allowance", func(call chaintest.Call) ([]interface{}, error) {
		assert.Equal(t, owner, call.Args[0])
		assert.Equal(t, spender, call.Args[1])
		return []interface{}{big.NewInt(42)}, nil
	})

	token := NewERC20(tokenAddr, backend)
	ctx := context.Background()

	decimals, err := token.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), decimals)

	symbol, err := token.Symbol(ctx)
	require.NoError(t, err)
	assert.Equal(t, "USDT", symbol)

	allowance, err := token.Allowance(ctx, owner, spender)
	require.NoError(t, err)
	assert.Equal(t, int64(42), allowance.Int64())
}

func TestContractCallError(t *testing.T) {
	backend := chaintest.NewBackend()
	backend.CallErr = errors.New("rpc down")

	_, err := NewERC20(tokenAddr, backend).Decimals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
}

func TestWalletSendAndWaitMined(t *testing.T) {
	backend := chaintest.NewBackend()
	w := newTestWallet(t)
	token := NewERC20(tokenAddr, backend)

	var approved *big.Int
	backend.Handle(tokenAddr, erc20ABI, "approve", func(call chaintest.Call) ([]interface{}, error) {
		approved = call.Args[1].(*big.Int)
		return nil, nil
	})

	data, err := token.PackApprove(common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"), big.NewInt(1000))
	require.NoError(t, err)

	ctx := context.Background()
	tx, err := w.Send(ctx, backend, tokenAddr, nil, 50000, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), tx.Gas())
	assert.Equal(t, int64(56), tx.ChainId().Int64())

	from, err := types.Sender(types.NewEIP155Signer(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)

	receipt, err := WaitMined(ctx, backend, tx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, int64(1000), approved.Int64())

	// Nonce advances for the next transaction
	tx2, err := w.Send(ctx, backend, tokenAddr, nil, 50000, data)
	require.NoError(t, err)
	assert.Equal(t, tx.Nonce()+1, tx2.Nonce())
}

func TestWaitMinedReverted(t *testing.T) {
	backend := chaintest.NewBackend()
	backend.Handle(tokenAddr, erc20ABI, "approve", func(chaintest.Call) ([]interface{}, error) {
		return nil, nil
	})
	backend.RevertMethod("approve")
	w := newTestWallet(t)

	data, err := NewERC20(tokenAddr, backend).PackApprove(w.Address(), big.NewInt(1))
	require.NoError(t, err)

	tx, err := w.Send(context.Background(), backend, tokenAddr, nil, 50000, data)
	require.NoError(t, err)

	_, err = WaitMined(context.Background(), backend, tx)
	assert.ErrorIs(t, err, ErrTxReverted)
}
