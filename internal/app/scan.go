package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ema-cross-alerts/internal/config"
	sig "ema-cross-alerts/internal/signal"
	"ema-cross-alerts/internal/storage"
)

// Scan 对监控列表执行一次性扫描并打印每个符号的判定结果。
// Decisions go through the real gate, so valid crossovers start their cooldown
// window and are recorded in the audit trail when the database is configured.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	symbols := opts.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = a.Config.ResolveWatchlist()
		if err != nil {
			return err
		}
	}
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return errors.New("no symbols to scan")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledgerStore, err := a.newLedgerStore(store)
	if err != nil {
		return err
	}

	gate := sig.NewGate(a.gateConfig(), ledgerStore, a.Logger)
	klines := a.newFetcher()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tReason\tType\tPrice\tVenue")

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		series, venue, fetchErr := klines.FetchKlines(ctx, symbol)
		if fetchErr != nil {
			a.Logger.Error().Err(fetchErr).Str("symbol", symbol).Msg("failed to fetch klines")
			fmt.Fprintf(writer, "%s\tfetch_error\t\t\t\n", symbol)
			continue
		}

		decision := gate.Analyze(ctx, series, symbol)
		if !decision.CrossoverAlert {
			fmt.Fprintf(writer, "%s\t%s\t\t\t%s\n", symbol, decision.Reason, venue)
			continue
		}

		fmt.Fprintf(writer, "%s\t%s\t%s\t%g\t%s\n",
			symbol, decision.Reason, decision.CrossoverType, decision.CurrentPrice, venue)

		if store != nil {
			record := storage.AlertRecord{
				Symbol:        symbol,
				AlertTS:       time.Now().UTC(),
				CrossoverType: string(decision.CrossoverType),
				Price:         decimal.NewFromFloat(decision.CurrentPrice),
				FastEMA:       decimal.NewFromFloat(decision.FastValue),
				SlowEMA:       decimal.NewFromFloat(decision.SlowValue),
				Venue:         venue,
			}
			if _, err := store.InsertAlert(ctx, record); err != nil {
				a.Logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist alert record")
			}
		}
	}

	return writer.Flush()
}

func normalizeSymbols(raw []string) []string {
	cfg := config.WatchlistConfig{Symbols: raw}
	symbols, _ := (&config.Config{Watchlist: cfg}).ResolveWatchlist()
	return symbols
}
