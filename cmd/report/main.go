// Command report prints the daily trade summary from the bot's database
// and can export the day's trades to CSV for offline review.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/adapters/sqlite"
	"scalpbot/internal/utils"
)

var (
	dbPath  = flag.String("db", "./data/scalpbot.db", "path to the bot database")
	csvPath = flag.String("csv", "", "write today's trades to this CSV file")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.New(logger.ParseLevel("ERROR")),
	})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()

	summary, err := repo.TodaySummary(ctx)
	if err != nil {
		log.Fatalf("Failed to load summary: %v", err)
	}

	fmt.Printf("Daily report %s\n", summary.Date)
	fmt.Printf("  Trades:   %d (%dW / %dL, %.1f%% win rate)\n",
		summary.TotalTrades, summary.Wins, summary.Losses, summary.WinRate())
	fmt.Printf("  P&L:      %+.0f KRW (%+.2f%%)\n", summary.TotalPNL, summary.TotalPct)
	if summary.BestSymbol != "" {
		fmt.Printf("  Best:     %s (%+.2f%%)\n", summary.BestSymbol, summary.BestPct)
		fmt.Printf("  Worst:    %s (%+.2f%%)\n", summary.WorstSymbol, summary.WorstPct)
	}

	if *csvPath == "" {
		return
	}

	trades, err := repo.TodayTrades(ctx)
	if err != nil {
		log.Fatalf("Failed to load trades: %v", err)
	}
	if len(trades) == 0 {
		fmt.Println("No trades to export.")
		return
	}
	if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}
	fmt.Printf("Wrote %d trades to %s\n", len(trades), *csvPath)
}
