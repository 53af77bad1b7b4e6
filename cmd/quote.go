package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/dex"
	"bnb-copilot/pkg/parser"
	"bnb-copilot/pkg/session"
	"bnb-copilot/pkg/types"
)

var (
	slippageFlag  float64
	useNativeFlag bool
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token>",
	Short: "Get a PancakeSwap quote without trading",
	Long: `Quote the expected output of a swap through the PancakeSwap V2 router.

Tokens can be given by symbol (BNB, WBNB, USDT) or by contract address.

Examples:
  bnb-copilot quote 10 USDT to WBNB
  bnb-copilot quote 0.5 BNB to USDT --slippage 1
  bnb-copilot quote 100 0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82 to USDT`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().Float64Var(&slippageFlag, "slippage", -1, "Slippage tolerance in percent (default from config)")
	quoteCmd.Flags().BoolVar(&useNativeFlag, "use-native", false, "Treat WBNB legs as native BNB")
}

// swapLegs is a parsed swap command resolved against the token list
type swapLegs struct {
	Request *types.SwapRequest
	In      types.Token
	Out     types.Token
	Params  dex.SwapParams
}

func resolveSwap(ctx context.Context, s *session.Session, args []string, slippage float64, useNative bool) (*swapLegs, error) {
	req, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	if err := parser.ValidateSwapRequest(req); err != nil {
		return nil, err
	}

	in, err := s.ResolveToken(ctx, req.SourceToken)
	if err != nil {
		return nil, err
	}
	out, err := s.ResolveToken(ctx, req.DestToken)
	if err != nil {
		return nil, err
	}

	if slippage < 0 {
		slippage = s.Config.SlippagePercent
	}

	return &swapLegs{
		Request: req,
		In:      in,
		Out:     out,
		Params: dex.SwapParams{
			TokenIn:         in.Address,
			TokenOut:        out.Address,
			AmountIn:        req.Amount,
			SlippagePercent: slippage,
			UseNative:       useNative,
		},
	}, nil
}

func runQuote(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	legs, err := resolveSwap(commandContext(cmd), s, args, slippageFlag, useNativeFlag)
	if err != nil {
		printError(err)
		exit(1)
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		sp.Suffix = " Fetching quote..."
		sp.Start()
	}

	quote, err := s.Engine.Quote(commandContext(cmd), legs.Params)
	if !jsonOutput {
		sp.Stop()
	}

	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"source_token": legs.In.Symbol,
			"dest_token":   legs.Out.Symbol,
			"slippage":     legs.Params.SlippagePercent,
			"quote":        quote,
		})
		return
	}

	displayQuote(s, legs, quote)
}

func displayQuote(s *session.Session, legs *swapLegs, quote *dex.SwapQuote) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s\n", quote.AmountIn, color.YellowString(legs.In.Symbol))
	fmt.Printf("  To:                ~%s %s\n", quote.AmountOut, color.YellowString(legs.Out.Symbol))
	fmt.Printf("  Minimum Received:  %s %s\n", quote.AmountOutMin, legs.Out.Symbol)
	fmt.Printf("  Slippage:          %.2f%%\n", legs.Params.SlippagePercent)
	fmt.Printf("  Price Impact:      ~%.2f%%\n", quote.PriceImpact)
	fmt.Printf("  Route:             %s\n", formatRoute(s, quote))

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func formatRoute(s *session.Session, quote *dex.SwapQuote) string {
	hops := make([]string, len(quote.Route))
	for i, addr := range quote.Route {
		hops[i] = s.Tokens.DisplayName(addr)
	}
	return strings.Join(hops, " -> ")
}
