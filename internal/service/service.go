package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ema-cross-alerts/internal/config"
	"ema-cross-alerts/internal/fetcher"
	"ema-cross-alerts/internal/scheduler"
	"ema-cross-alerts/internal/signal"
	"ema-cross-alerts/internal/storage"
)

// Service orchestrates fetching, crossover gating, and alert auditing.
type Service struct {
	scheduler  *scheduler.Scheduler
	klines     fetcher.KlineFetcher
	gate       *signal.Gate
	alertStore storage.AlertStore
	symbols    []string
	retention  time.Duration
	logger     zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, sched *scheduler.Scheduler, klines fetcher.KlineFetcher, gate *signal.Gate, alertStore storage.AlertStore, symbols []string, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := alertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		klines:     klines,
		gate:       gate,
		alertStore: alertStore,
		symbols:    symbols,
		retention:  cfg.Alerts.Retention,
		logger:     logger.With().Str("component", "service").Logger(),
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的全量扫描。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.Sweep(ctx)
}

// Sweep evaluates every watchlist symbol once, sequentially. A fetch failure
// affects only that symbol; the sweep always continues.
func (s *Service) Sweep(ctx context.Context) error {
	start := time.Now()
	alerts := 0
	failures := 0
	reasons := make(map[signal.Reason]int)

	for _, symbol := range s.symbols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		decision, ok := s.evaluateSymbol(ctx, symbol)
		if !ok {
			failures++
			continue
		}

		reasons[decision.Reason]++
		if decision.CrossoverAlert {
			alerts++
		}
	}

	s.pruneAudit(ctx)

	event := s.logger.Info().
		Int("symbols", len(s.symbols)).
		Int("alerts", alerts).
		Int("fetch_failures", failures).
		Dur("elapsed", time.Since(start))
	for reason, count := range reasons {
		event = event.Int(string(reason), count)
	}
	event.Msg("sweep complete")

	return nil
}

func (s *Service) evaluateSymbol(ctx context.Context, symbol string) (signal.Decision, bool) {
	series, venue, err := s.klines.FetchKlines(ctx, symbol)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to fetch klines")
		return signal.Decision{}, false
	}

	decision := s.gate.Analyze(ctx, series, symbol)
	if !decision.CrossoverAlert {
		s.logger.Debug().
			Str("symbol", symbol).
			Str("reason", string(decision.Reason)).
			Msg("no alert")
		return decision, true
	}

	s.logger.Info().
		Str("symbol", symbol).
		Str("crossover_type", string(decision.CrossoverType)).
		Float64("price", decision.CurrentPrice).
		Float64("ema_fast", decision.FastValue).
		Float64("ema_slow", decision.SlowValue).
		Str("venue", venue).
		Msg("crossover alert")

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Symbol:        symbol,
			AlertTS:       time.Now().UTC(),
			CrossoverType: string(decision.CrossoverType),
			Price:         decimal.NewFromFloat(decision.CurrentPrice),
			FastEMA:       decimal.NewFromFloat(decision.FastValue),
			SlowEMA:       decimal.NewFromFloat(decision.SlowValue),
			Venue:         venue,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist alert record")
		}
	}

	return decision, true
}

// pruneAudit trims audit rows outside the retention window.
func (s *Service) pruneAudit(ctx context.Context) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.retention)
	if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Error().Err(err).Msg("failed to prune alert history")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
