package dex

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"bnb-copilot/pkg/types"
)

var (
	testRouter  = common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E")
	testWrapped = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	testStable  = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	testCake    = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")

	testNetwork = Network{Router: testRouter, Wrapped: testWrapped, Stable: testStable}
)

func TestBuildPath(t *testing.T) {
	tests := []struct {
		name     string
		in       common.Address
		out      common.Address
		expected []common.Address
	}{
		{
			name:     "wrapped to stable is direct",
			in:       testWrapped,
			out:      testStable,
			expected: []common.Address{testWrapped, testStable},
		},
		{
			name:     "stable to wrapped keeps input order",
			in:       testStable,
			out:      testWrapped,
			expected: []common.Address{testStable, testWrapped},
		},
		{
			name:     "native to stable uses wrapped",
			in:       types.NativeAddress,
			out:      testStable,
			expected: []common.Address{testWrapped, testStable},
		},
		{
			name:     "stable to native uses wrapped",
			in:       testStable,
			out:      types.NativeAddress,
			expected: []common.Address{testStable, testWrapped},
		},
		{
			name:     "neither leg wrapped hops through wrapped",
			in:       testCake,
			out:      testStable,
			expected: []common.Address{testCake, testWrapped, testStable},
		},
		{
			name:     "native to other token is single hop",
			in:       types.NativeAddress,
			out:      testCake,
			expected: []common.Address{testWrapped, testCake},
		},
		{
			name:     "other token to wrapped is single hop",
			in:       testCake,
			out:      testWrapped,
			expected: []common.Address{testCake, testWrapped},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, testNetwork.BuildPath(tt.in, tt.out))
		})
	}
}

func TestBuildPathNeverContainsNative(t *testing.T) {
	tokens := []common.Address{types.NativeAddress, testWrapped, testStable, testCake}
	for _, in := range tokens {
		for _, out := range tokens {
			path := testNetwork.BuildPath(in, out)
			assert.True(t, len(path) == 2 || len(path) == 3, "path length for %s -> %s", in.Hex(), out.Hex())
			assert.NotContains(t, path, types.NativeAddress)
		}
	}
}
