package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/session"
	"bnb-copilot/pkg/types"
)

var (
	swapSlippage     float64
	swapUseNative    bool
	swapEntry        string
	swapTakeProfit   string
	swapStopLoss     string
	swapConfidence   int
	swapReason       string
	swapNoAutomation bool
	noConfirm        bool
)

const (
	defaultTakeProfitPct = "0.05"
	defaultStopLossPct   = "0.03"
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Execute a PancakeSwap trade with TP/SL automation",
	Long: `Swap tokens through the PancakeSwap V2 router and record the trade locally.

The command previews the quote, asks for an approval transaction when the router
may not spend the input token yet, submits the swap and records the trade with
its take-profit and stop-loss targets. When automation is enabled, TP/SL tasks
are registered for the trade. An automation failure never undoes the swap; use
'bnb-copilot trades retry-automation <id>' to register the tasks later.

The entry price defaults to the latest BNB/USDT price. Take-profit and stop-loss
default to +5% and -3% of the entry price.

Examples:
  bnb-copilot swap 10 USDT to WBNB
  bnb-copilot swap 10 USDT to WBNB --take-profit 660 --stop-loss 570 --confidence 80
  bnb-copilot swap 0.1 BNB to USDT --no-automation --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().Float64Var(&swapSlippage, "slippage", -1, "Slippage tolerance in percent (default from config)")
	swapCmd.Flags().BoolVar(&swapUseNative, "use-native", false, "Treat WBNB legs as native BNB")
	swapCmd.Flags().StringVar(&swapEntry, "entry", "", "Entry price (default: latest market price)")
	swapCmd.Flags().StringVar(&swapTakeProfit, "take-profit", "", "Take-profit price (default: entry +5%)")
	swapCmd.Flags().StringVar(&swapStopLoss, "stop-loss", "", "Stop-loss price (default: entry -3%)")
	swapCmd.Flags().IntVar(&swapConfidence, "confidence", 50, "Confidence score recorded with the trade (0-100)")
	swapCmd.Flags().StringVar(&swapReason, "reason", "", "Reasoning recorded with the trade")
	swapCmd.Flags().BoolVar(&swapNoAutomation, "no-automation", false, "Do not register TP/SL automation")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompts")
}

func runSwap(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	if _, err := s.RequireWallet(); err != nil {
		printError(err)
		exit(1)
	}

	legs, err := resolveSwap(ctx, s, args, swapSlippage, swapUseNative)
	if err != nil {
		printError(err)
		exit(1)
	}

	intent, err := buildIntent(ctx, s, legs)
	if err != nil {
		printError(err)
		exit(1)
	}

	seq := s.Sequencer(intent)

	st, err := withSpinner(jsonOutput, " Fetching quote...", func() (execution.State, error) {
		return seq.Load(ctx)
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if !jsonOutput {
		displayPreview(s, legs, intent, st)
	}

	if st.InsufficientBalance {
		printError(fmt.Errorf("%w: have %s %s, need %s", execution.ErrInsufficientBalance, st.Balance, legs.In.Symbol, st.Quote.AmountIn))
		exit(1)
	}

	if st.NeedsApproval() {
		if !noConfirm && !jsonOutput {
			if !confirm(fmt.Sprintf("Approve the router to spend %s %s?", legs.Params.AmountIn, legs.In.Symbol)) {
				fmt.Println("\nSwap cancelled.")
				exit(0)
			}
		}

		st, err = withSpinner(jsonOutput, " Waiting for approval...", func() (execution.State, error) {
			actx, cancel := receiptContext(ctx, s)
			defer cancel()
			return seq.Approve(actx)
		})
		if err != nil {
			printError(err)
			exit(1)
		}
		if !jsonOutput {
			color.Green("\n✓ Approval confirmed: %s", st.ApprovalTxHash)
		}
	}

	if !noConfirm && !jsonOutput {
		if !confirm("Proceed with swap?") {
			fmt.Println("\nSwap cancelled.")
			exit(0)
		}
	}

	st, err = withSpinner(jsonOutput, " Executing swap...", func() (execution.State, error) {
		sctx, cancel := receiptContext(ctx, s)
		defer cancel()
		return seq.Swap(sctx)
	})
	if err != nil {
		if errors.Is(err, execution.ErrApprovalRequired) {
			color.Yellow("\nThe router allowance changed. Run the swap again to approve.")
		}
		if st.TxHash != "" {
			fmt.Printf("  Transaction: %s\n", st.TxHash)
		}
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(st)
		return
	}

	displaySwapResult(st)
}

// buildIntent resolves the trade targets for a swap
func buildIntent(ctx context.Context, s *session.Session, legs *swapLegs) (execution.Intent, error) {
	var entry decimal.Decimal
	if swapEntry != "" {
		d, err := decimal.NewFromString(swapEntry)
		if err != nil {
			return execution.Intent{}, fmt.Errorf("invalid entry price %q", swapEntry)
		}
		entry = d
	} else {
		quote := s.Oracle.Latest(ctx)
		entry = quote.Price
		s.Log.Debugw("Using market entry price", "price", entry, "source", quote.Source)
	}

	takeProfit := entry.Mul(decimal.NewFromInt(1).Add(decimal.RequireFromString(defaultTakeProfitPct))).Round(2)
	if swapTakeProfit != "" {
		d, err := decimal.NewFromString(swapTakeProfit)
		if err != nil {
			return execution.Intent{}, fmt.Errorf("invalid take-profit price %q", swapTakeProfit)
		}
		takeProfit = d
	}

	stopLoss := entry.Mul(decimal.NewFromInt(1).Sub(decimal.RequireFromString(defaultStopLossPct))).Round(2)
	if swapStopLoss != "" {
		d, err := decimal.NewFromString(swapStopLoss)
		if err != nil {
			return execution.Intent{}, fmt.Errorf("invalid stop-loss price %q", swapStopLoss)
		}
		stopLoss = d
	}

	if swapConfidence < 0 || swapConfidence > 100 {
		return execution.Intent{}, fmt.Errorf("confidence must be between 0 and 100")
	}

	return execution.Intent{
		Params:     legs.Params,
		Symbol:     pairSymbol(s, legs.In, legs.Out),
		TokenIn:    tokenRef(s, legs.In),
		TokenOut:   tokenRef(s, legs.Out),
		EntryPrice: entry,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		Confidence: swapConfidence,
		Reasoning:  swapReason,
		Automate:   !swapNoAutomation,
	}, nil
}

// pairSymbol names the traded pair as BASE/QUOTE with the stable coin as quote
func pairSymbol(s *session.Session, in, out types.Token) string {
	base, quote := out, in
	if out.Address == s.Engine.Network().Stable {
		base, quote = in, out
	}
	return symbolOf(base) + "/" + symbolOf(quote)
}

func symbolOf(t types.Token) string {
	if t.IsNative() {
		return "WBNB"
	}
	return t.Symbol
}

// tokenRef is how a token is stored on a trade: a symbol when it resolves back, else the address
func tokenRef(s *session.Session, t types.Token) string {
	if resolved, err := s.Tokens.Lookup(t.Symbol); err == nil && resolved.Address == t.Address {
		return t.Symbol
	}
	return t.Address.Hex()
}

func receiptContext(ctx context.Context, s *session.Session) (context.Context, context.CancelFunc) {
	if s.Config.ReceiptTimeout > 0 {
		return context.WithTimeout(ctx, s.Config.ReceiptTimeout)
	}
	return context.WithCancel(ctx)
}

func withSpinner(jsonOutput bool, suffix string, fn func() (execution.State, error)) (execution.State, error) {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		sp.Suffix = suffix
		sp.Start()
	}
	st, err := fn()
	if !jsonOutput {
		sp.Stop()
	}
	return st, err
}

func displayPreview(s *session.Session, legs *swapLegs, intent execution.Intent, st execution.State) {
	displayQuote(s, legs, st.Quote)

	fmt.Printf("  Pair:              %s\n", color.CyanString(intent.Symbol))
	fmt.Printf("  Entry:             %s\n", intent.EntryPrice.StringFixed(2))
	fmt.Printf("  Take Profit:       %s\n", color.GreenString(intent.TakeProfit.StringFixed(2)))
	fmt.Printf("  Stop Loss:         %s\n", color.RedString(intent.StopLoss.StringFixed(2)))
	fmt.Printf("  Balance:           %s %s\n", st.Balance, legs.In.Symbol)
	if st.NeedsApproval() {
		fmt.Printf("  Approval:          %s (allowance %s)\n", color.YellowString("required"), st.Approval.CurrentAllowance)
	}
	if intent.Automate {
		fmt.Printf("  Automation:        %s\n", color.GreenString("TP/SL tasks will be registered"))
	}
	fmt.Println()
}

func displaySwapResult(st execution.State) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                   TRADE EXECUTED")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Transaction:       %s\n", color.CyanString(st.TxHash))
	fmt.Printf("  Received:          ~%s\n", st.Quote.AmountOut)
	if st.Trade != nil {
		fmt.Printf("  Trade ID:          %s\n", st.Trade.ID)
	}
	if st.Automation != nil {
		fmt.Printf("  Take Profit Task:  %s\n", st.Automation.TakeProfit.ID)
		fmt.Printf("  Stop Loss Task:    %s\n", st.Automation.StopLoss.ID)
	}

	for _, w := range st.Warnings {
		color.Yellow("\n  ⚠ %s", w)
	}
	if st.Trade != nil && st.Automation == nil && len(st.Warnings) > 0 {
		fmt.Println("\nRetry the automation with:")
		color.Cyan("  bnb-copilot trades retry-automation %s", st.Trade.ID)
	}

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func confirm(question string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("\n%s (y/N): ", question)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
