package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/automation"
	"bnb-copilot/pkg/execution"
	"bnb-copilot/pkg/session"
	"bnb-copilot/pkg/trades"
)

var (
	watchStatus   bool
	watchInterval int
)

var automationCmd = &cobra.Command{
	Use:     "automation",
	Aliases: []string{"auto"},
	Short:   "Inspect and manage TP/SL automation tasks",
	Long: `Inspect and manage the take-profit and stop-loss tasks registered for trades.

When the automation service cannot be reached, tasks are simulated locally.
Run 'bnb-copilot automation watch' to execute simulated tasks when the market
price crosses a target.`,
}

var automationStatusCmd = &cobra.Command{
	Use:   "status <trade-id>",
	Short: "Show the status of a trade's automation tasks",
	Long: `Show the status of the TP/SL tasks registered for a trade.

Examples:
  bnb-copilot automation status <trade-id>
  bnb-copilot automation status <trade-id> --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runAutomationStatus,
}

var automationCancelCmd = &cobra.Command{
	Use:   "cancel <trade-id>",
	Short: "Cancel a trade's automation tasks",
	Args:  cobra.ExactArgs(1),
	Run:   runAutomationCancel,
}

var automationSimulateCmd = &cobra.Command{
	Use:   "simulate <trade-id>",
	Short: "Estimate the cost of a trade's TP/SL tasks",
	Args:  cobra.ExactArgs(1),
	Run:   runAutomationSimulate,
}

var automationHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the automation service is reachable",
	Args:  cobra.NoArgs,
	Run:   runAutomationHealth,
}

var automationTasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the wallet's active TP/SL tasks",
	Long: `Refresh every task attached to the wallet's automated trades and list the ones
that are still active.

Examples:
  bnb-copilot automation tasks
  bnb-copilot automation tasks --json`,
	Args: cobra.NoArgs,
	Run:  runAutomationTasks,
}

var automationWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow automated trades until a target is reached",
	Long: `Start a foreground watcher over the configured wallet's automated trades.

The watcher will:
- Poll the status of every registered TP/SL task
- Mark a trade closed when one of its tasks has executed, and cancel the other
- Execute locally simulated tasks by swapping back when the price crosses a target

Examples:
  # Start in foreground
  bnb-copilot automation watch

  # Run in background (Linux/Mac)
  nohup bnb-copilot automation watch > ~/bnb-copilot-watch.log 2>&1 &`,
	Args: cobra.NoArgs,
	Run:  runAutomationWatch,
}

func init() {
	rootCmd.AddCommand(automationCmd)

	automationCmd.AddCommand(automationStatusCmd)
	automationCmd.AddCommand(automationCancelCmd)
	automationCmd.AddCommand(automationSimulateCmd)
	automationCmd.AddCommand(automationHealthCmd)
	automationCmd.AddCommand(automationTasksCmd)
	automationCmd.AddCommand(automationWatchCmd)

	automationStatusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	automationStatusCmd.Flags().IntVar(&watchInterval, "interval", 15, "Polling interval in seconds (when watching)")
}

// requireAutomation exits when automation is disabled
func requireAutomation(s *session.Session) *automation.Client {
	if s.Automation == nil {
		printError(fmt.Errorf("automation is disabled. Set automation.enabled in .bnb-copilot.yaml"))
		exit(1)
	}
	return s.Automation
}

// automatedTrade loads a trade and exits when it has no automation
func automatedTrade(s *session.Session, id string) *trades.Trade {
	t, err := s.Trades.Get(id)
	if err != nil {
		printError(err)
		exit(1)
	}
	if t.Automation == nil {
		printError(fmt.Errorf("trade %s has no automation tasks. Register them with 'bnb-copilot trades retry-automation %s'", id, id))
		exit(1)
	}
	return t
}

// taskStatuses fetches the status of every task of a trade
func taskStatuses(ctx context.Context, client *automation.Client, t *trades.Trade) ([]*automation.TaskStatus, []error) {
	refs := t.Automation.Refs()
	statuses := make([]*automation.TaskStatus, len(refs))
	errs := make([]error, len(refs))
	for i, ref := range refs {
		statuses[i], errs[i] = client.Status(ctx, ref)
	}
	return statuses, errs
}

func runAutomationStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	client := requireAutomation(s)
	t := automatedTrade(s, args[0])

	if !watchStatus {
		statuses, errs := withTaskSpinner(jsonOutput, func() ([]*automation.TaskStatus, []error) {
			return taskStatuses(ctx, client, t)
		})
		if jsonOutput {
			printJSON(statuses)
			return
		}
		displayTaskStatus(t, statuses, errs)
		return
	}

	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		exit(1)
	}

	fmt.Printf("\nWatching automation of %s\n", color.CyanString(t.ID))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n", watchInterval)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		statuses, errs := taskStatuses(ctx, client, t)
		displayTaskStatus(t, statuses, errs)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func withTaskSpinner(jsonOutput bool, fn func() ([]*automation.TaskStatus, []error)) ([]*automation.TaskStatus, []error) {
	var statuses []*automation.TaskStatus
	var errs []error
	_, _ = withSpinner(jsonOutput, " Checking automation status...", func() (execution.State, error) {
		statuses, errs = fn()
		return execution.State{}, nil
	})
	return statuses, errs
}

func displayTaskStatus(t *trades.Trade, statuses []*automation.TaskStatus, errs []error) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       AUTOMATION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Trade:           %s\n", color.CyanString(t.ID))
	fmt.Printf("  Pair:            %s\n", t.Symbol)
	fmt.Printf("  Trade Status:    %s\n", getStatusColor(t.Status))
	fmt.Printf("  Registered:      %s\n", t.Automation.RegisteredAt.Format("2006-01-02 15:04:05"))

	for i, ref := range t.Automation.Refs() {
		target := t.TakeProfitPrice
		if ref.Kind == automation.KindStopLoss {
			target = t.StopLossPrice
		}

		fmt.Printf("\n  %s @ %s\n", strings.ToUpper(strings.ReplaceAll(string(ref.Kind), "_", " ")), target.StringFixed(2))
		fmt.Printf("    Task:          %s\n", color.HiBlackString(ref.ID))
		if errs[i] != nil {
			fmt.Printf("    Status:        %s\n", color.RedString("unavailable: %v", errs[i]))
			continue
		}

		st := statuses[i]
		status := getColoredStatus(st.Status)
		if st.Stale {
			status += color.HiBlackString(" (cached)")
		}
		fmt.Printf("    Status:        %s\n", status)
		fmt.Printf("    Mode:          %s\n", st.Mode)
		if st.ExecutionCount > 0 {
			fmt.Printf("    Executions:    %d\n", st.ExecutionCount)
		}
		if st.LastExecutionAttempt != "" {
			fmt.Printf("    Last Attempt:  %s\n", st.LastExecutionAttempt)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func runAutomationCancel(cmd *cobra.Command, args []string) {
	ctx := commandContext(cmd)

	s, done := openSession(cmd)
	defer done()

	client := requireAutomation(s)
	t := automatedTrade(s, args[0])

	failed := false
	for _, ref := range t.Automation.Refs() {
		if err := client.Cancel(ctx, ref); err != nil {
			color.Red("✗ %s task %s: %v", ref.Kind, ref.ID, err)
			failed = true
			continue
		}
		color.Green("✓ %s task %s cancelled", ref.Kind, ref.ID)
	}

	if failed {
		exit(1)
	}
	fmt.Println()
}

func runAutomationSimulate(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	client := requireAutomation(s)

	t, err := s.Trades.Get(args[0])
	if err != nil {
		printError(err)
		exit(1)
	}

	params, err := execution.AutomationParams(t)
	if err != nil {
		printError(err)
		exit(1)
	}

	sim, err := client.SimulateTrade(commandContext(cmd), params)
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(sim)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                 AUTOMATION ESTIMATE")
	fmt.Println(strings.Repeat("=", 60))

	for _, row := range []struct {
		name string
		sim  automation.Simulation
	}{{"Take Profit", sim.TakeProfit}, {"Stop Loss", sim.StopLoss}} {
		result := color.GreenString("ok")
		if !row.sim.Success {
			result = color.RedString("failed")
		}
		if row.sim.Fallback {
			result += color.HiBlackString(" (local estimate)")
		}
		fmt.Printf("\n  %-12s     %s\n", row.name+":", result)
		fmt.Printf("    Gas:           %d\n", row.sim.EstimatedGas)
		fmt.Printf("    Fee:           %d\n", row.sim.EstimatedFee)
		for _, e := range row.sim.Errors {
			color.Yellow("    ⚠ %s", e)
		}
	}

	fmt.Printf("\n  Total Gas:       %d\n", sim.TotalEstimatedGas)
	fmt.Printf("  Total Fee:       %d\n", sim.TotalEstimatedFee)
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func runAutomationHealth(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	health := requireAutomation(s).HealthCheck(commandContext(cmd))

	if jsonOutput {
		printJSON(health)
	} else if health.Healthy {
		color.Green("\n✓ %s\n", health.Message)
	} else {
		color.Red("\n✗ %s\n", health.Message)
	}

	if !health.Healthy {
		exit(1)
	}
}

func runAutomationTasks(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	requireAutomation(s)

	account, err := s.Account()
	if err != nil {
		printError(err)
		exit(1)
	}

	var tasks []automation.TaskStatus
	_, err = withSpinner(jsonOutput, " Checking automation tasks...", func() (execution.State, error) {
		active, err := s.ActiveTasks(commandContext(cmd), account.Hex())
		tasks = active
		return execution.State{}, err
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if jsonOutput {
		printJSON(tasks)
		return
	}

	if len(tasks) == 0 {
		fmt.Println("\nNo active automation tasks.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        ACTIVE TASKS")
	fmt.Println(strings.Repeat("=", 70) + "\n")

	for _, task := range tasks {
		fmt.Printf("  %-40s  %-18s  %s\n",
			color.CyanString(task.ID),
			task.Mode,
			color.HiBlackString(task.ExpiryTime))
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: %d tasks\n\n", len(tasks))
}

func runAutomationWatch(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	account, err := s.Account()
	if err != nil {
		printError(err)
		exit(1)
	}

	watcher, err := s.Watcher(account.Hex())
	if err != nil {
		printError(err)
		exit(1)
	}

	automated := s.Trades.Automated(account.Hex())

	if !jsonOutput {
		fmt.Println("\n" + strings.Repeat("=", 70))
		color.Green("                   AUTOMATION WATCHER")
		fmt.Println(strings.Repeat("=", 70))
		fmt.Printf("\n  Wallet:          %s\n", color.CyanString(account.Hex()))
		fmt.Printf("  Trades:          %d automated\n", len(automated))
		if s.Wallet == nil {
			color.Yellow("  No private key configured: simulated tasks are reported but not executed")
		}
		fmt.Println("\nPress Ctrl+C to stop.")
		fmt.Println(strings.Repeat("=", 70))
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = watcher.Run(ctx, func(ev execution.Event) {
		if jsonOutput {
			printJSON(ev)
			return
		}
		displayWatchEvent(ev)
	})
	if err != nil {
		printError(err)
		exit(1)
	}

	if !jsonOutput {
		color.Yellow("\nReceived shutdown signal. Watcher stopped.")
		fmt.Println("\nRestart with:")
		color.Cyan("  bnb-copilot automation watch\n")
	}
}

func displayWatchEvent(ev execution.Event) {
	label := color.GreenString("TAKE PROFIT")
	if ev.Reason == trades.CloseStopLoss {
		label = color.RedString("STOP LOSS")
	}

	fmt.Printf("\n[%s] %s %s at %s\n", time.Now().Format("15:04:05"), label, ev.TradeID, ev.Price.StringFixed(2))
	fmt.Printf("  PnL:             %s\n", formatPnL(ev.RealizedPnL))
	if ev.TaskID != "" {
		fmt.Printf("  Task:            %s\n", ev.TaskID)
	}
	if ev.ExitTxHash != "" {
		fmt.Printf("  Exit TX:         %s\n", color.CyanString(ev.ExitTxHash))
	}
}

func getColoredStatus(status string) string {
	upper := strings.ToUpper(status)

	switch status {
	case automation.StatusExecuted:
		return color.GreenString(upper)
	case automation.StatusActive, automation.StatusRegistered:
		return color.YellowString(upper)
	case automation.StatusCancelled, automation.StatusExpired:
		return color.RedString(upper)
	default:
		return upper
	}
}
