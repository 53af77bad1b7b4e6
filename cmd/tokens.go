package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens"},
	Short:   "List known tokens",
	Long: `List the tokens that can be referenced by symbol. Any other ERC-20 token can be
used by its contract address, or added under 'tokens' in .bnb-copilot.yaml.

Examples:
  bnb-copilot list-tokens
  bnb-copilot list-tokens --symbol BNB`,
	Args: cobra.NoArgs,
	Run:  runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	var filtered []types.Token
	for _, token := range s.Tokens.All() {
		if filterSymbol == "" || strings.Contains(token.Symbol, strings.ToUpper(filterSymbol)) {
			filtered = append(filtered, token)
		}
	}

	if jsonOutput {
		printJSON(filtered)
		return
	}

	displayTokens(filtered)
}

func displayTokens(tokens []types.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		exit(0)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                         KNOWN TOKENS")
	fmt.Println(strings.Repeat("=", 70) + "\n")

	for _, token := range tokens {
		address := token.Address.Hex()
		if token.IsNative() {
			address = "native"
		}
		fmt.Printf("  %-10s  %-14s  %s\n",
			color.YellowString(token.Symbol),
			token.Name,
			color.HiBlackString(address))
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}
