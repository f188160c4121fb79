package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polycopy/copybot/internal/config"
	"github.com/polycopy/copybot/pkg/models"
	"github.com/polycopy/copybot/pkg/polymarket"
	"github.com/polycopy/copybot/pkg/state"
)

var (
	cfgFile      string
	flagAll      bool
	flagLimit    int
	flagStats    bool
	flagRecent   bool
	flagExport   string
	flagOutput   string
	flagBackfill bool
	flagWatch    bool
	flagInterval int
	flagCompact  bool
	logger       *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "history",
		Short: "View, export, and reconcile trade history",
		Long: `Reporting companion to copybot: lists trades, prints statistics,
exports history, retroactively settles pending trades, and migrates old
history files. Do not run concurrently with the bot against the same files.`,
		Run: runHistory,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVar(&flagAll, "all", false, "show all trades")
	rootCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of trades to show")
	rootCmd.Flags().BoolVar(&flagStats, "stats", false, "show statistics only")
	rootCmd.Flags().BoolVar(&flagRecent, "recent", false, "use the working state instead of full history")
	rootCmd.Flags().StringVar(&flagExport, "export", "", "export history to file (json or csv)")
	rootCmd.Flags().StringVar(&flagOutput, "output", "", "output file path for export")
	rootCmd.Flags().BoolVar(&flagBackfill, "backfill", false, "backfill settlement data for unsettled trades")
	rootCmd.Flags().BoolVar(&flagWatch, "watch", false, "keep retrying backfill until all settled")
	rootCmd.Flags().IntVar(&flagInterval, "interval", 300, "backfill retry interval in seconds")
	rootCmd.Flags().BoolVar(&flagCompact, "compact", false, "migrate history: strip dead/transient fields, backfill final_price")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// marketLookup adapts the venue client to the store's backfill contract.
type marketLookup struct {
	client *polymarket.Client
}

func (m marketLookup) GetMarket(ts int64) (*models.Market, error) {
	return m.client.GetMarket(context.Background(), ts)
}

func runHistory(cmd *cobra.Command, args []string) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	store := state.NewStore(cfg.Files.StatePath, cfg.Files.HistoryPath, state.Limits{
		MaxDailyBets: cfg.Trading.MaxDailyBets,
		MaxDailyLoss: cfg.Trading.MaxDailyLoss,
		BetAmount:    cfg.Trading.BetAmount,
	}, logger)

	if flagBackfill {
		runBackfill(cfg, store)
		return
	}

	if flagCompact {
		res, err := store.CompactHistory()
		if err != nil {
			logger.WithError(err).Fatal("Compact migration failed")
		}
		fmt.Printf("Compacted %d trades:\n", res.Trades)
		fmt.Printf("  - Removed %d dead field instances\n", res.DeadRemoved)
		fmt.Printf("  - Removed %d transient field instances\n", res.TransientRemoved)
		fmt.Printf("  - Backfilled final_price for %d trades\n", res.FinalPriceBackfilled)
		return
	}

	if flagRecent {
		if store.Load() == state.Recovered {
			logger.Warn("Working state was corrupt; showing defaults")
		}
		fmt.Println("(Showing recent trades from working state)")
	} else {
		store.Load()
		if err := store.LoadFullHistory(); err != nil {
			logger.WithError(err).Fatal("Failed to load full history")
		}
		fmt.Printf("(Loaded full history: %d trades)\n", len(store.Trades()))
	}

	trades := store.Trades()
	if len(trades) == 0 {
		fmt.Println("No trade history found. Run the bot first to generate trades.")
		return
	}

	if flagExport != "" {
		runExport(store)
		return
	}

	if flagStats {
		printStats(store.Statistics())
		return
	}

	limit := flagLimit
	if flagAll {
		limit = len(trades)
	}
	printHistory(trades, limit)
}

func runBackfill(cfg *config.Config, store *state.Store) {
	client := polymarket.NewClient(polymarket.ClientConfig{
		GammaURL:   cfg.Polymarket.GammaURL,
		ClobURL:    cfg.Polymarket.ClobURL,
		DataAPIURL: cfg.Polymarket.DataAPIURL,
		RateLimit:  cfg.Polymarket.RateLimitRPS,
	}, logger)
	lookup := marketLookup{client: client}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Backfilling settlement data for unsettled trades...")
	totalUpdated := 0

	for {
		updated, remaining, err := store.BackfillSettlements(lookup)
		if err != nil {
			logger.WithError(err).Fatal("Backfill failed")
		}
		totalUpdated += updated

		if remaining == 0 {
			if totalUpdated > 0 {
				fmt.Printf("\nDone! Updated %d trades. Run 'history --stats' to see results.\n", totalUpdated)
			} else {
				fmt.Println("\nNo trades needed updating.")
			}
			return
		}

		if !flagWatch {
			fmt.Printf("\n%d trade(s) still pending settlement.\n", remaining)
			fmt.Printf("Run with --watch to keep retrying every %d minutes.\n", flagInterval/60)
			return
		}

		fmt.Printf("\n[%s] %d trade(s) still pending. Retrying in %d min...\n",
			time.Now().Format("15:04:05"), remaining, flagInterval/60)

		select {
		case <-ctx.Done():
			fmt.Println("\nStopped watching.")
			return
		case <-time.After(time.Duration(flagInterval) * time.Second):
		}
	}
}

func runExport(store *state.Store) {
	switch flagExport {
	case "json":
		path := flagOutput
		if path == "" {
			path = "trade_history.json"
		}
		if err := store.ExportJSON(path); err != nil {
			logger.WithError(err).Fatal("Export failed")
		}
		fmt.Printf("Exported history to %s\n", path)
	case "csv":
		path := flagOutput
		if path == "" {
			path = "trade_history.csv"
		}
		if err := store.ExportCSV(path); err != nil {
			logger.WithError(err).Fatal("Export failed")
		}
		fmt.Printf("Exported history to %s\n", path)
	default:
		logger.Fatalf("Unknown export format %q (want json or csv)", flagExport)
	}
}

func printStats(stats models.Statistics) {
	line := "============================================================"
	fmt.Println("\n" + line)
	fmt.Println("TRADING STATISTICS (UTC)")
	fmt.Println(line)
	fmt.Println("\nTrades:")
	fmt.Printf("  Total:    %d\n", stats.TotalTrades)
	fmt.Printf("  Settled:  %d\n", stats.SettledTrades)
	fmt.Printf("  Pending:  %d\n", stats.PendingTrades)
	fmt.Printf("  Failed:   %d\n", stats.FailedTrades)
	fmt.Printf("  Wins:     %d\n", stats.Wins)
	fmt.Printf("  Losses:   %d\n", stats.Losses)
	fmt.Printf("  Win Rate: %.1f%%\n", stats.WinRate)

	fmt.Println("\nProfit & Loss:")
	fmt.Printf("  Realized P&L:    $%+.2f\n", stats.RealizedPnL)
	if stats.PendingTrades > 0 {
		fmt.Printf("  Unrealized P&L:  $%+.2f (%d pending)\n", stats.UnrealizedPnL, stats.PendingTrades)
		fmt.Printf("  Total P&L (est): $%+.2f\n", stats.TotalPnL)
	}
	fmt.Printf("  Gross Profit:    $%+.2f\n", stats.TotalGrossProfit)
	fmt.Printf("  Fees Paid:       $%.2f\n", stats.TotalFeesPaid)
	fmt.Printf("  Avg Win:         $%+.2f\n", stats.AvgWin)
	fmt.Printf("  Avg Loss:        $%+.2f\n", stats.AvgLoss)
	fmt.Printf("  Largest Win:     $%+.2f\n", stats.LargestWin)
	fmt.Printf("  Largest Loss:    $%+.2f\n", stats.LargestLoss)

	fmt.Println("\nCosts (Averages):")
	fmt.Printf("  Fee:             %.2f%%\n", stats.AvgFeePct)
	fmt.Printf("  Slippage:        %.2f%%\n", stats.AvgSlippagePct)
	fmt.Printf("  Delay Impact:    %.2f%%\n", stats.AvgDelayImpactPct)

	fmt.Printf("\nBankroll: $%.2f\n", stats.Bankroll)
	fmt.Println(line + "\n")
}

func printHistory(trades []*models.Trade, limit int) {
	if limit > len(trades) {
		limit = len(trades)
	}
	start := len(trades) - limit

	fmt.Printf("\n%-20s %-28s %-5s %8s %7s %-8s %9s\n",
		"TIME", "MARKET", "DIR", "AMOUNT", "ENTRY", "OUTCOME", "PNL")
	for _, t := range trades[start:] {
		when := time.Unix(t.Timestamp, 0).UTC().Format("2006-01-02 15:04")
		outcome := "pending"
		pnl := ""
		if t.Status == models.ExecFailed {
			outcome = "failed"
		} else if t.Outcome != nil {
			outcome = string(*t.Outcome)
			pnl = fmt.Sprintf("$%+.2f", t.PnL)
		}
		fmt.Printf("%-20s %-28s %-5s %8.2f %7.2f %-8s %9s\n",
			when, t.MarketSlug, t.Direction, t.Amount, t.EntryPrice, outcome, pnl)
	}
	fmt.Println()
}
