package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/price"
	"bnb-copilot/pkg/session"
	"bnb-copilot/pkg/trades"
)

var (
	// List flags
	tradesStatusFilter string
	tradesAllWallets   bool

	// Close flags
	closeNoConfirm bool
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Manage recorded trades",
	Long: `List, inspect and close the trades recorded by the swap command.

Trades are stored in a local JSON file (default ~/.bnb-copilot-trades.json),
newest first, keeping the 50 most recent. Live trades are backed by an on-chain
swap; monitored trades are watch-only paper trades.`,
}

var tradesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List recorded trades",
	Long: `List the trades recorded for the configured wallet.

Examples:
  bnb-copilot trades list
  bnb-copilot trades list --status active
  bnb-copilot trades list --all`,
	Args: cobra.NoArgs,
	Run:  runTradesList,
}

var tradesViewCmd = &cobra.Command{
	Use:   "view <trade-id>",
	Short: "Show details of a trade",
	Args:  cobra.ExactArgs(1),
	Run:   runTradesView,
}

var tradesMonitorCmd = &cobra.Command{
	Use:   "monitor <amount> <source-token> to <dest-token>",
	Short: "Record a watch-only paper trade",
	Long: `Record a paper trade at the current quote without submitting a swap.

Examples:
  bnb-copilot trades monitor 10 USDT to WBNB --take-profit 660 --stop-loss 570`,
	Args: cobra.MinimumNArgs(1),
	Run:  runTradesMonitor,
}

var tradesCloseCmd = &cobra.Command{
	Use:   "close <trade-id>",
	Short: "Close a live trade at market price",
	Long: `Swap a live trade's position back into its input token at the current market
price, cancel its automation tasks and record the realized PnL.

Examples:
  bnb-copilot trades close 0xAbC..._1735689600000`,
	Args: cobra.ExactArgs(1),
	Run:  runTradesClose,
}

var tradesRemoveCmd = &cobra.Command{
	Use:     "remove <trade-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a monitored or closed trade",
	Args:    cobra.ExactArgs(1),
	Run:     runTradesRemove,
}

var tradesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show trade statistics",
	Args:  cobra.NoArgs,
	Run:   runTradesStats,
}

var tradesRetryCmd = &cobra.Command{
	Use:   "retry-automation <trade-id>",
	Short: "Register TP/SL automation for a live trade that has none",
	Args:  cobra.ExactArgs(1),
	Run:   runTradesRetry,
}

func init() {
	rootCmd.AddCommand(tradesCmd)

	// Add subcommands
	tradesCmd.AddCommand(tradesListCmd)
	tradesCmd.AddCommand(tradesViewCmd)
	tradesCmd.AddCommand(tradesMonitorCmd)
	tradesCmd.AddCommand(tradesCloseCmd)
	tradesCmd.AddCommand(tradesRemoveCmd)
	tradesCmd.AddCommand(tradesStatsCmd)
	tradesCmd.AddCommand(tradesRetryCmd)

	// List command flags
	tradesListCmd.Flags().StringVar(&tradesStatusFilter, "status", "", "Filter by status (active, monitoring, closed)")
	tradesListCmd.Flags().BoolVar(&tradesAllWallets, "all", false, "List trades of every wallet")
	tradesStatsCmd.Flags().BoolVar(&tradesAllWallets, "all", false, "Include trades of every wallet")

	// Monitor command flags
	tradesMonitorCmd.Flags().Float64Var(&swapSlippage, "slippage", -1, "Slippage tolerance in percent (default from config)")
	tradesMonitorCmd.Flags().StringVar(&swapEntry, "entry", "", "Entry price (default: latest market price)")
	tradesMonitorCmd.Flags().StringVar(&swapTakeProfit, "take-profit", "", "Take-profit price (default: entry +5%)")
	tradesMonitorCmd.Flags().StringVar(&swapStopLoss, "stop-loss", "", "Stop-loss price (default: entry -3%)")
	tradesMonitorCmd.Flags().IntVar(&swapConfidence, "confidence", 50, "Confidence score recorded with the trade (0-100)")
	tradesMonitorCmd.Flags().StringVar(&swapReason, "reason", "", "Reasoning recorded with the trade")

	// Close command flags
	tradesCloseCmd.Flags().BoolVarP(&closeNoConfirm, "yes", "y", false, "Skip confirmation prompt")
}

// tradeWallet is the wallet filter for listing: empty lists every wallet
func tradeWallet(s *session.Session, all bool) string {
	if all {
		return ""
	}
	account, err := s.Account()
	if err != nil {
		printError(fmt.Errorf("%w (or pass --all)", err))
		exit(1)
	}
	return account.Hex()
}

func runTradesList(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	wallet := tradeWallet(s, tradesAllWallets)

	var list []*trades.Trade
	if tradesStatusFilter != "" {
		list = s.Trades.ListByStatus(wallet, trades.Status(tradesStatusFilter))
	} else {
		list = s.Trades.List(wallet)
	}

	if jsonOutput {
		printJSON(list)
		return
	}

	if len(list) == 0 {
		color.Yellow("No trades found.\n")
		fmt.Println("\nExecute a trade with:")
		color.Cyan("  bnb-copilot swap <amount> <token> to <token>\n")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 120))
	color.Green("                                                 TRADES")
	fmt.Println(strings.Repeat("=", 120))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tPAIR\tENTRY\tTP / SL\tAMOUNT\tSTATUS\tAUTOMATION\tPNL")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, t := range list {
		targets := fmt.Sprintf("%s / %s", t.TakeProfitPrice.StringFixed(2), t.StopLossPrice.StringFixed(2))
		amount := fmt.Sprintf("%s -> %s", t.AmountIn, t.AmountOut)

		pnl := "-"
		if t.RealizedPnL.Valid {
			pnl = formatPnL(t.RealizedPnL.Decimal)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateString(t.ID, 28), t.Symbol, t.EntryPrice.StringFixed(2), targets,
			truncateString(amount, 28), getStatusColor(t.Status), automationLabel(t), pnl)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 120) + "\n")
}

func runTradesView(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	t, err := s.Trades.Get(args[0])
	if err != nil {
		printError(err)
		exit(1)
	}

	var market *price.Quote
	if t.Status != trades.StatusClosed {
		market = s.Oracle.Latest(commandContext(cmd))
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"trade":  t,
			"market": market,
		})
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          TRADE DETAILS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  ID:                %s\n", color.CyanString(t.ID))
	fmt.Printf("  Pair:              %s (%s -> %s)\n", t.Symbol, t.TokenIn, t.TokenOut)
	fmt.Printf("  Status:            %s\n", getStatusColor(t.Status))
	fmt.Printf("  Created:           %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Confidence:        %d%%\n", t.Confidence)
	if t.Reasoning != "" {
		fmt.Printf("  Reasoning:         %s\n", t.Reasoning)
	}

	fmt.Printf("\n  Position:\n")
	fmt.Printf("    Amount In:       %s %s\n", t.AmountIn, t.TokenIn)
	fmt.Printf("    Amount Out:      %s %s\n", t.AmountOut, t.TokenOut)
	fmt.Printf("    Value:           %s\n", t.TradeValue.StringFixed(2))
	if t.TxHash != "" {
		fmt.Printf("    Entry TX:        %s\n", color.CyanString(t.TxHash))
	}

	fmt.Printf("\n  Targets:\n")
	fmt.Printf("    Entry:           %s\n", t.EntryPrice.StringFixed(2))
	fmt.Printf("    Take Profit:     %s\n", color.GreenString(t.TakeProfitPrice.StringFixed(2)))
	fmt.Printf("    Stop Loss:       %s\n", color.RedString(t.StopLossPrice.StringFixed(2)))

	if market != nil {
		fmt.Printf("    Market:          %s (%s)\n", market.Price.StringFixed(2), market.Source)
		fmt.Printf("    Unrealized PnL:  %s\n", formatPnL(t.UnrealizedPnL(market.Price)))
		switch t.CheckTargets(market.Price) {
		case trades.TargetTakeProfit:
			color.Green("    Take profit reached")
		case trades.TargetStopLoss:
			color.Red("    Stop loss reached")
		}
	}

	if t.Automation != nil {
		fmt.Printf("\n  Automation:\n")
		for _, ref := range t.Automation.Refs() {
			fmt.Printf("    %-16s %s (%s)\n", string(ref.Kind)+":", ref.ID, ref.Mode)
		}
		if t.Automation.Degraded() {
			color.Yellow("    Tasks are simulated locally; run 'bnb-copilot automation watch' to execute them")
		}
	}

	if t.Status == trades.StatusClosed {
		fmt.Printf("\n  Close:\n")
		if t.ClosedAt != nil {
			fmt.Printf("    Closed At:       %s\n", t.ClosedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("    Reason:          %s\n", t.CloseReason)
		if t.ExitTxHash != "" {
			fmt.Printf("    Exit TX:         %s\n", color.CyanString(t.ExitTxHash))
		}
		if t.RealizedPnL.Valid {
			fmt.Printf("    Realized PnL:    %s\n", formatPnL(t.RealizedPnL.Decimal))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func runTradesMonitor(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	account, err := s.Account()
	if err != nil {
		printError(err)
		exit(1)
	}

	legs, err := resolveSwap(ctx, s, args, swapSlippage, false)
	if err != nil {
		printError(err)
		exit(1)
	}

	intent, err := buildIntent(ctx, s, legs)
	if err != nil {
		printError(err)
		exit(1)
	}

	quote, err := s.Engine.Quote(ctx, legs.Params)
	if err != nil {
		printError(err)
		exit(1)
	}

	t, err := s.Trades.Monitor(trades.NewTrade{
		Wallet:          account.Hex(),
		Symbol:          intent.Symbol,
		TokenIn:         intent.TokenIn,
		TokenOut:        intent.TokenOut,
		EntryPrice:      intent.EntryPrice,
		TakeProfitPrice: intent.TakeProfit,
		StopLossPrice:   intent.StopLoss,
		Confidence:      intent.Confidence,
		Reasoning:       intent.Reasoning,
		AmountIn:        quote.AmountIn,
		AmountOut:       quote.AmountOut,
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(t)
		return
	}

	color.Green("\n✓ Monitoring trade %s", t.ID)
	fmt.Printf("  %s %s -> ~%s %s, TP %s / SL %s\n\n",
		t.AmountIn, legs.In.Symbol, t.AmountOut, legs.Out.Symbol,
		t.TakeProfitPrice.StringFixed(2), t.StopLossPrice.StringFixed(2))
}

func runTradesClose(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	if _, err := s.RequireWallet(); err != nil {
		printError(err)
		exit(1)
	}

	t, err := s.Trades.Get(args[0])
	if err != nil {
		printError(err)
		exit(1)
	}
	if !t.IsLive() {
		printError(fmt.Errorf("%w. Use 'bnb-copilot trades remove %s' to clear it from history", execution.ErrNotLive, t.ID))
		exit(1)
	}

	if !closeNoConfirm && !jsonOutput {
		if !confirm(fmt.Sprintf("This will swap your %s back to %s at current market price. Continue?", t.TokenOut, t.TokenIn)) {
			fmt.Println("\nClose cancelled.")
			exit(0)
		}
	}

	var result *execution.CloseResult
	_, err = withSpinner(jsonOutput, " Closing trade...", func() (execution.State, error) {
		cctx, cancel := receiptContext(ctx, s)
		defer cancel()
		var cerr error
		result, cerr = s.Closer().Close(cctx, t.ID, trades.CloseManual)
		return execution.State{}, cerr
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(result)
		return
	}

	color.Green("\n✓ Trade closed successfully!")
	fmt.Printf("  Sold:        %s %s\n", result.AmountIn, t.TokenOut)
	fmt.Printf("  Received:    ~%s %s\n", result.Quote.AmountOut, t.TokenIn)
	fmt.Printf("  PnL:         %s\n", formatPnL(result.RealizedPnL))
	fmt.Printf("  Tx:          %s\n", color.CyanString(result.ExitTxHash))
	for _, w := range result.Warnings {
		color.Yellow("  ⚠ %s", w)
	}
	fmt.Println()
}

func runTradesRemove(cmd *cobra.Command, args []string) {
	s, done := openSession(cmd)
	defer done()

	if err := s.Trades.Remove(args[0]); err != nil {
		printError(err)
		exit(1)
	}

	printSuccess(fmt.Sprintf("✓ Trade '%s' removed", args[0]))
}

func runTradesStats(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	stats := s.Trades.Stats(tradeWallet(s, tradesAllWallets))

	if jsonOutput {
		printJSON(stats)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	color.Green("                TRADE STATISTICS")
	fmt.Println(strings.Repeat("=", 50))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "\n  Total\t%d\n", stats.Total)
	fmt.Fprintf(w, "  Active\t%s\n", color.GreenString("%d", stats.Active))
	fmt.Fprintf(w, "  Monitoring\t%s\n", color.YellowString("%d", stats.Monitoring))
	fmt.Fprintf(w, "  Closed\t%s\n", color.BlueString("%d", stats.Closed))
	fmt.Fprintf(w, "  Automated\t%d\n", stats.Automated)
	fmt.Fprintf(w, "  Avg Confidence\t%.1f%%\n", stats.AvgConfidence)
	fmt.Fprintf(w, "  Realized PnL\t%s\n", formatPnL(stats.TotalPnL))
	w.Flush()

	fmt.Println("\n" + strings.Repeat("=", 50) + "\n")
}

func runTradesRetry(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	registrar := s.Registrar()
	if registrar == nil {
		printError(fmt.Errorf("automation is disabled in configuration"))
		exit(1)
	}

	t, err := execution.EnsureAutomation(commandContext(cmd), s.Trades, registrar, args[0])
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(t)
		return
	}

	color.Green("\n✓ Automation registered for %s", t.ID)
	for _, ref := range t.Automation.Refs() {
		fmt.Printf("  %-12s %s (%s)\n", string(ref.Kind)+":", ref.ID, ref.Mode)
	}
	fmt.Println()
}

func getStatusColor(status trades.Status) string {
	switch status {
	case trades.StatusActive:
		return color.GreenString(string(status))
	case trades.StatusMonitoring:
		return color.YellowString(string(status))
	case trades.StatusClosed:
		return color.BlueString(string(status))
	default:
		return string(status)
	}
}

func automationLabel(t *trades.Trade) string {
	switch {
	case t.Automation == nil:
		return "-"
	case t.Automation.Degraded():
		return color.YellowString("simulated")
	default:
		return color.GreenString("registered")
	}
}

func formatPnL(pnl decimal.Decimal) string {
	if pnl.IsNegative() {
		return color.RedString("-$%s", pnl.Abs().StringFixed(2))
	}
	return color.GreenString("+$%s", pnl.StringFixed(2))
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
