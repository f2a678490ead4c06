// Command trade_report prints per-bot execution metrics from the trade log.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"alpha_executor/internal/report"
	"alpha_executor/internal/storage"
)

func main() {
	_ = godotenv.Load()

	defaultDB := os.Getenv("DATABASE_PATH")
	if defaultDB == "" {
		defaultDB = "data/trades.db"
	}
	dbPath := pflag.String("db", defaultDB, "sqlite trade log")
	botID := pflag.Int64("bot", 0, "only this bot id")
	symbol := pflag.String("symbol", "", "only this symbol")
	since := pflag.Duration("since", 0, "only trades submitted within this window, e.g. 168h")
	limit := pflag.Int("limit", 0, "at most this many records (newest first)")
	showTrades := pflag.BoolP("trades", "t", false, "also list the individual records")
	pflag.Parse()

	if err := run(*dbPath, *botID, *symbol, *since, *limit, *showTrades); err != nil {
		fmt.Fprintf(os.Stderr, "trade_report: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, botID int64, symbol string, since time.Duration, limit int, showTrades bool) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	f := storage.TradeFilter{BotConfigID: botID, Symbol: strings.ToUpper(symbol), Limit: limit}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	recs, err := store.ListTrades(context.Background(), f)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no trades recorded")
		return nil
	}

	report.RenderSummary(os.Stdout, report.Summarize(recs), report.Total(recs))
	if showTrades {
		fmt.Println()
		report.RenderTrades(os.Stdout, recs)
	}
	return nil
}
