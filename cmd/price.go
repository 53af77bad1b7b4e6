package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"bnb-copilot/pkg/price"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Show the latest BNB/USDT market price",
	Long: `Show the latest BNB/USDT price. The oracle tries Supra first (when an API key is
configured), then CoinGecko, and finally falls back to a fixed synthetic price.`,
	Args: cobra.NoArgs,
	Run:  runPrice,
}

func init() {
	rootCmd.AddCommand(priceCmd)
}

func runPrice(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	s, done := openSession(cmd)
	defer done()

	quote := s.Oracle.Latest(commandContext(cmd))

	if jsonOutput {
		printJSON(quote)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	color.Green("                 MARKET PRICE")
	fmt.Println(strings.Repeat("=", 50))

	fmt.Printf("\n  Pair:           %s\n", strings.ToUpper(strings.ReplaceAll(quote.TradingPair, "_", "/")))
	fmt.Printf("  Price:          %s\n", color.CyanString("$%s", quote.Price.StringFixed(2)))

	change := fmt.Sprintf("%s (%s%%)", quote.Change24h.StringFixed(2), quote.ChangePercent24h.StringFixed(2))
	if quote.Change24h.IsNegative() {
		change = color.RedString("%s", change)
	} else {
		change = color.GreenString("+%s", change)
	}
	fmt.Printf("  24h Change:     %s\n", change)

	if !quote.High24h.IsZero() {
		fmt.Printf("  24h High/Low:   %s / %s\n", quote.High24h.StringFixed(2), quote.Low24h.StringFixed(2))
	}
	if !quote.Volume24h.IsZero() {
		fmt.Printf("  24h Volume:     %s\n", quote.Volume24h.StringFixed(0))
	}
	if !quote.MarketCap.IsZero() {
		fmt.Printf("  Market Cap:     %s\n", quote.MarketCap.StringFixed(0))
	}
	fmt.Printf("  Updated:        %s\n", quote.UpdatedAt.Format("2006-01-02 15:04:05"))

	source := string(quote.Source)
	if quote.Source == price.SourceSynthetic {
		source = color.YellowString("%s (price sources unavailable)", source)
	}
	fmt.Printf("  Source:         %s\n", source)

	fmt.Println("\n" + strings.Repeat("=", 50) + "\n")
}
