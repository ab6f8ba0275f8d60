package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"scalpbot/internal/domain"
)

// WriteTradesToCSV exports closed trades for offline review.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"symbol", "name", "entry_time", "exit_time", "entry_price", "exit_price", "quantity", "pnl", "profit_pct", "reason"})

	for _, t := range trades {
		writer.Write([]string{
			t.Symbol,
			t.Name,
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.Itoa(t.Quantity),
			strconv.FormatFloat(t.PNL, 'f', -1, 64),
			strconv.FormatFloat(t.ProfitPct, 'f', 4, 64),
			string(t.Reason),
		})
	}
	return writer.Error()
}
