package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"ema-cross-alerts/internal/config"
	"ema-cross-alerts/internal/fetcher"
	"ema-cross-alerts/internal/ledger"
	"ema-cross-alerts/internal/scheduler"
	"ema-cross-alerts/internal/service"
	sig "ema-cross-alerts/internal/signal"
	"ema-cross-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.KlineFetcher {
	return fetcher.NewBingX(fetcher.BingXOptions{
		BaseURL:   a.Config.Exchange.BaseURL,
		Interval:  a.Config.Exchange.Interval,
		Limit:     a.Config.Exchange.Limit,
		Timeout:   a.Config.Exchange.RequestTimeout,
		UserAgent: a.Config.Exchange.UserAgent,
	}, a.Logger)
}

func (a *App) gateConfig() sig.Config {
	return sig.Config{
		FastPeriod: a.Config.Analysis.EMAFast,
		SlowPeriod: a.Config.Analysis.EMASlow,
		MinBars:    a.Config.Analysis.MinBars,
		Freshness:  a.Config.Analysis.Freshness,
		Cooldown:   a.Config.Analysis.Cooldown,
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newLedgerStore selects the cooldown ledger backing. The Postgres backend
// requires an open store; config validation guarantees the DSN is present.
func (a *App) newLedgerStore(store *storage.Store) (ledger.Store, error) {
	if a.Config.Ledger.Backend == "postgres" {
		if store == nil {
			return nil, errors.New("ledger.backend=postgres but database is not open")
		}
		return store, nil
	}
	return ledger.NewFileStore(a.Config.Ledger.Path), nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	symbols, err := a.Config.ResolveWatchlist()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		return errors.New("watchlist is empty; configure watchlist.symbols or watchlist.file")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert auditing disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	ledgerStore, err := a.newLedgerStore(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	gate := sig.NewGate(a.gateConfig(), ledgerStore, a.Logger)

	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}

	svc := service.New(a.Config, sched, a.newFetcher(), gate, alertStore, symbols, a.Logger)

	a.Logger.Info().
		Int("symbols", len(symbols)).
		Str("ledger_backend", a.Config.Ledger.Backend).
		Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ScanOptions configure a one-shot sweep.
type ScanOptions struct {
	Symbols []string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting a symbol's candle history.
type ExportOptions struct {
	Symbol    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
