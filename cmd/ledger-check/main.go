// ledger-check audits the bankroll ledger in PostgreSQL: initial balance plus every ledger
// change must equal the current balance. It never creates tables or rows.
// Usage: set POSTGRES_DSN (same as for goalbot), then run:
//
//	go run ./cmd/ledger-check
//	# or
//	POSTGRES_DSN='host=... port=5432 user=... password=... dbname=... sslmode=require' ./ledger-check -entries 20
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
)

func main() {
	var entries int
	flag.IntVar(&entries, "entries", 10, "How many of the latest ledger entries to print")
	flag.Parse()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN environment variable is required")
	}

	store, err := storage.OpenPostgresStore(&config.PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summary, err := store.Summary(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		log.Fatal("No bankroll in this database yet; start goalbot once to create it")
	}
	if err != nil {
		log.Fatalf("Failed to load summary: %v", err)
	}
	fmt.Printf("Balance: %s | open: %d | won: %d | lost: %d | win rate: %.1f%%\n",
		summary.Balance.StringFixed(2), summary.OpenPredictions, summary.Won, summary.Lost, summary.WinRate*100)

	ledger, err := store.Ledger(ctx)
	if err != nil {
		log.Fatalf("Failed to load ledger: %v", err)
	}
	start := len(ledger) - entries
	if start < 0 {
		start = 0
	}
	for _, e := range ledger[start:] {
		fmt.Printf("  #%d %s %s -> %s (%s) %s\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.PreviousBalance.StringFixed(2), e.NewBalance.StringFixed(2), e.Change.StringFixed(2), e.Reason)
	}

	if err := store.VerifyLedger(ctx); err != nil {
		if errors.Is(err, storage.ErrLedgerMismatch) {
			log.Fatalf("LEDGER MISMATCH over %d entries: %v", len(ledger), err)
		}
		log.Fatalf("Failed to verify ledger: %v", err)
	}
	fmt.Printf("Ledger OK: %d entries add up to the balance\n", len(ledger))
}
