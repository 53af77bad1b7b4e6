package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/types"
)

var balanceCmd = &cobra.Command{
	Use:     "balance [token...]",
	Aliases: []string{"bal"},
	Short:   "Show wallet balances",
	Long: `Show the configured wallet's balances. Without arguments, every known token
is listed.

Examples:
  bnb-copilot balance
  bnb-copilot balance USDT
  bnb-copilot balance 0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82`,
	Run: runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

type tokenBalance struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func runBalance(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	account, err := s.Account()
	if err != nil {
		printError(err)
		exit(1)
	}

	var tokens []types.Token
	if len(args) == 0 {
		tokens = s.Tokens.All()
	} else {
		for _, arg := range args {
			token, err := s.ResolveToken(ctx, arg)
			if err != nil {
				printError(err)
				exit(1)
			}
			tokens = append(tokens, token)
		}
	}

	balances := make([]tokenBalance, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			bal, err := s.Engine.Balance(gctx, token.Address, account)
			if err != nil {
				return fmt.Errorf("%s: %w", token.Symbol, err)
			}
			balances[i] = tokenBalance{Symbol: token.Symbol, Address: token.Address.Hex(), Balance: bal}
			return nil
		})
	}

	_, err = withSpinner(jsonOutput, " Fetching balances...", func() (execution.State, error) {
		return execution.State{}, g.Wait()
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"wallet":   account.Hex(),
			"balances": balances,
		})
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          BALANCES")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Wallet: %s\n\n", color.CyanString(account.Hex()))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, b := range balances {
		addr := b.Address
		if tokens[i].IsNative() {
			addr = "native"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", color.YellowString(b.Symbol), b.Balance, color.HiBlackString(addr))
	}
	w.Flush()

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}
