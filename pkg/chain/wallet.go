package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet signs and submits legacy EIP-155 transactions
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewWallet parses a hex private key (with or without 0x)
func NewWallet(privateKeyHex string, chainID int64) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewWalletFromKey(privateKey, chainID), nil
}

// NewWalletFromKey wraps an existing key
func NewWalletFromKey(privateKey *ecdsa.PrivateKey, chainID int64) *Wallet {
	return &Wallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		chainID:    big.NewInt(chainID),
	}
}

// Address returns the wallet's account address
func (w *Wallet) Address() common.Address {
	return w.address
}

// Send signs a transaction with a fixed gas limit and submits it
func (w *Wallet) Send(ctx context.Context, backend Backend, to common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	nonce, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx, nil
}
