package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the sentinel used for the chain's native coin
var NativeAddress = common.Address{}

// Token is a swappable asset known to the CLI
type Token struct {
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals,omitempty"`
}

// IsNative reports whether the token is the native sentinel
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// TokenSet is the small fixed token list the CLI resolves symbols against
type TokenSet struct {
	tokens []Token
}

// NewTokenSet creates a token set for BNB, the wrapped coin and the stable coin
func NewTokenSet(wrapped, stable common.Address) *TokenSet {
	return &TokenSet{
		tokens: []Token{
			{Symbol: "BNB", Name: "BNB", Address: NativeAddress, Decimals: 18},
			{Symbol: "WBNB", Name: "Wrapped BNB", Address: wrapped},
			{Symbol: "USDT", Name: "Tether USD", Address: stable},
		},
	}
}

// Add registers an extra token, replacing any token with the same symbol
func (s *TokenSet) Add(token Token) {
	token.Symbol = strings.ToUpper(token.Symbol)
	for i, t := range s.tokens {
		if t.Symbol == token.Symbol {
			s.tokens[i] = token
			return
		}
	}
	s.tokens = append(s.tokens, token)
}

// All returns the known tokens in display order
func (s *TokenSet) All() []Token {
	out := make([]Token, len(s.tokens))
	copy(out, s.tokens)
	return out
}

// Known reports whether addr is one of the listed tokens
func (s *TokenSet) Known(addr common.Address) bool {
	for _, t := range s.tokens {
		if t.Address == addr {
			return true
		}
	}
	return false
}

// Lookup resolves a symbol (case-insensitive) or a hex address.
// Unknown hex addresses are accepted as bare tokens.
func (s *TokenSet) Lookup(symbolOrAddress string) (Token, error) {
	key := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(key) {
		addr := common.HexToAddress(key)
		for _, t := range s.tokens {
			if t.Address == addr {
				return t, nil
			}
		}
		return Token{Symbol: shortAddress(addr), Address: addr}, nil
	}

	upper := strings.ToUpper(key)
	for _, t := range s.tokens {
		if t.Symbol == upper {
			return t, nil
		}
	}
	return Token{}, fmt.Errorf("unknown token: %s", symbolOrAddress)
}

// DisplayName returns the symbol for a known address, or a shortened hex
func (s *TokenSet) DisplayName(addr common.Address) string {
	for _, t := range s.tokens {
		if t.Address == addr {
			return t.Symbol
		}
	}
	return shortAddress(addr)
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// SwapRequest represents a user's swap command
type SwapRequest struct {
	Amount      string
	SourceToken string
	DestToken   string
}
