package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bnb-copilot/config"
	"bnb-copilot/pkg/session"
)

var configFile string

var (
	cleanupMu sync.Mutex
	cleanups  []func()

	osExit = os.Exit
)

var rootCmd = &cobra.Command{
	Use:   "bnb-copilot",
	Short: "A trading co-pilot for PancakeSwap on BNB Smart Chain",
	Long: `bnb-copilot quotes and executes PancakeSwap V2 swaps on BNB Smart Chain,
records each trade with its take-profit and stop-loss targets, and registers
TP/SL automation tasks that close the position when a target is reached.

Examples:
  bnb-copilot quote 10 USDT to WBNB
  bnb-copilot swap 10 USDT to WBNB --take-profit 660 --stop-loss 570
  bnb-copilot trades list
  bnb-copilot automation watch`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is $HOME/.bnb-copilot.yaml)")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

// onExit registers fn to run once, either when the returned func is called
// or when the command exits early
func onExit(fn func()) func() {
	var once sync.Once
	wrapped := func() { once.Do(fn) }

	cleanupMu.Lock()
	cleanups = append(cleanups, wrapped)
	cleanupMu.Unlock()
	return wrapped
}

// exit runs pending cleanups, newest first, and terminates with code
func exit(code int) {
	cleanupMu.Lock()
	pending := cleanups
	cleanups = nil
	cleanupMu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		pending[i]()
	}
	osExit(code)
}

// newLogger builds a console logger on stderr so it never mixes with command output
func newLogger(level string, verbose bool) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log_level %q: %w", level, err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	cfg.Sampling = nil

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// openSession loads configuration and connects every component.
// Any failure is printed and exits the process.
func openSession(cmd *cobra.Command) (*session.Session, func()) {
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configFile)
	if err != nil {
		printError(err)
		exit(1)
	}

	log, err := newLogger(cfg.LogLevel, verbose)
	if err != nil {
		printError(err)
		exit(1)
	}

	s, err := session.Open(commandContext(cmd), cfg, log)
	if err != nil {
		_ = log.Sync()
		printError(err)
		exit(1)
	}

	return s, onExit(func() {
		s.Close()
		_ = log.Sync()
	})
}

// commandContext returns the command's context, or a background context
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
