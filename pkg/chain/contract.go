package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract binds an ABI fragment to a deployed address
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	backend Backend
}

// NewContract creates a contract handle
func NewContract(address common.Address, contractABI abi.ABI, backend Backend) *Contract {
	return &Contract{
		Address: address,
		ABI:     contractABI,
		backend: backend,
	}
}

// Call performs a read-only call and returns the unpacked outputs
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}

	to := c.Address
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%s on %s: %w", method, c.Address.Hex(), ErrEmptyResult)
	}

	out, err := c.ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}

	return out, nil
}

// Pack encodes calldata for a state-changing call
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", method, err)
	}
	return data, nil
}

// MustParseABI parses a JSON ABI fragment, panicking on malformed input
func MustParseABI(fragment string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(fragment))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}
