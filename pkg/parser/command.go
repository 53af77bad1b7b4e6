package parser

import (
	"fmt"
	"regexp"
	"strings"

	"bnb-copilot/pkg/types"
)

var swapPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+(?:TO|FOR)\s+([A-Z0-9]+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 0.5 BNB to USDT"
//   - "100 USDT for BNB"
//   - "0.01 WBNB to 0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	command = strings.TrimSpace(strings.ToUpper(command))
	command = strings.TrimPrefix(command, "SWAP ")
	command = strings.Join(strings.Fields(command), " ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 0.1 BNB to USDT')")
	}

	return &types.SwapRequest{
		Amount:      matches[1],
		SourceToken: normalizeToken(matches[2]),
		DestToken:   normalizeToken(matches[3]),
	}, nil
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if req.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	return nil
}

// normalizeToken restores the 0x prefix casing of addresses and maps aliases
func normalizeToken(token string) string {
	if strings.HasPrefix(token, "0X") {
		return "0x" + token[2:]
	}
	aliases := map[string]string{
		"USD":    "USDT",
		"BSCUSD": "USDT",
	}
	if normalized, ok := aliases[token]; ok {
		return normalized
	}
	return token
}
