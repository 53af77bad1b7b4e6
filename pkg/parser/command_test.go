package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bnb-copilot/pkg/types"
)

func TestParseSwapCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    types.SwapRequest
	}{
		{"with verb", "swap 0.5 BNB to USDT", types.SwapRequest{Amount: "0.5", SourceToken: "BNB", DestToken: "USDT"}},
		{"lowercase for", "100 usdt for wbnb", types.SwapRequest{Amount: "100", SourceToken: "USDT", DestToken: "WBNB"}},
		{"extra spaces", "  swap   10   USDT  to  BNB ", types.SwapRequest{Amount: "10", SourceToken: "USDT", DestToken: "BNB"}},
		{"alias", "1 BNB to usd", types.SwapRequest{Amount: "1", SourceToken: "BNB", DestToken: "USDT"}},
		{
			"address",
			"0.01 WBNB to 0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82",
			types.SwapRequest{Amount: "0.01", SourceToken: "WBNB", DestToken: "0x0E09FABB73BD3ADE0A17ECC321FD13A19E81CE82"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseSwapCommand(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *req)
		})
	}
}

func TestParseSwapCommandRejectsMalformed(t *testing.T) {
	for _, command := range []string{
		"",
		"swap BNB to USDT",
		"swap -1 BNB to USDT",
		"swap 1 BNB USDT",
		"swap 1 BNB into USDT",
	} {
		_, err := ParseSwapCommand(command)
		assert.Error(t, err, command)
	}
}

func TestValidateSwapRequest(t *testing.T) {
	assert.NoError(t, ValidateSwapRequest(&types.SwapRequest{Amount: "1", SourceToken: "BNB", DestToken: "USDT"}))
	assert.ErrorContains(t, ValidateSwapRequest(&types.SwapRequest{SourceToken: "BNB", DestToken: "USDT"}), "amount")
	assert.ErrorContains(t, ValidateSwapRequest(&types.SwapRequest{Amount: "1", DestToken: "USDT"}), "source")
	assert.ErrorContains(t, ValidateSwapRequest(&types.SwapRequest{Amount: "1", SourceToken: "BNB"}), "destination")
}
