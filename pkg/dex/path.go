package dex

import (
	"github.com/ethereum/go-ethereum/common"

	"bnb-copilot/pkg/types"
)

// Network holds the addresses that shape routing
type Network struct {
	Router  common.Address
	Wrapped common.Address
	Stable  common.Address
}

// Normalize maps the native sentinel to the wrapped coin
func (n Network) Normalize(token common.Address) common.Address {
	if token == types.NativeAddress {
		return n.Wrapped
	}
	return token
}

// BuildPath returns the router path for a swap between two tokens.
// The direct wrapped/stable pair is used as-is, pairs that do not touch the
// wrapped coin hop through it, everything else is a single hop.
func (n Network) BuildPath(tokenIn, tokenOut common.Address) []common.Address {
	in := n.Normalize(tokenIn)
	out := n.Normalize(tokenOut)

	if n.isDirectPair(in, out) {
		return []common.Address{in, out}
	}

	if in != n.Wrapped && out != n.Wrapped {
		return []common.Address{in, n.Wrapped, out}
	}

	return []common.Address{in, out}
}

func (n Network) isDirectPair(a, b common.Address) bool {
	return (a == n.Wrapped && b == n.Stable) || (a == n.Stable && b == n.Wrapped)
}
