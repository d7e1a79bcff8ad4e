package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ema-cross-alerts/internal/indicator"
	"ema-cross-alerts/internal/ledger"
)

// Config parameterises the crossover gate. All thresholds are explicit so the
// gate stays testable with non-production windows.
type Config struct {
	FastPeriod int
	SlowPeriod int
	MinBars    int
	Freshness  time.Duration
	Cooldown   time.Duration
}

// DefaultConfig returns the production 21/50 configuration.
func DefaultConfig() Config {
	return Config{
		FastPeriod: 21,
		SlowPeriod: 50,
		MinBars:    100,
		Freshness:  30 * time.Minute,
		Cooldown:   12 * time.Hour,
	}
}

// Gate turns a repeatable EMA crossover signal into a rate-limited alert
// decision: one alert per symbol per cooldown window, gated on data freshness.
type Gate struct {
	cfg    Config
	store  ledger.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewGate constructs a crossover gate on top of a durable cooldown ledger.
func NewGate(cfg Config, store ledger.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "crossover_gate").Logger(),
		now:    time.Now,
	}
}

// Analyze evaluates one symbol's series and returns a decision. Checks run in
// a fixed short-circuit order: sufficiency, freshness, crossover, cooldown.
// On a committed alert the cooldown ledger is updated and persisted. The gate
// never lets a fault escape; unexpected panics degrade to an analysis_error
// decision.
func (g *Gate) Analyze(ctx context.Context, series Series, symbol string) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Str("symbol", symbol).Interface("panic", r).Msg("analysis panicked")
			decision = Decision{CrossoverAlert: false, Reason: ReasonAnalysisError}
		}
	}()

	now := g.now()

	if len(series.Closes) < g.cfg.MinBars {
		return Decision{Reason: ReasonInsufficientData}
	}

	if !g.isFresh(series.Timestamps, now) {
		return Decision{Reason: ReasonStaleData}
	}

	emaFast := indicator.ComputeEMA(series.Closes, g.cfg.FastPeriod)
	emaSlow := indicator.ComputeEMA(series.Closes, g.cfg.SlowPeriod)

	crossover, ok := detectCrossover(emaFast, emaSlow)
	if !ok {
		return Decision{Reason: ReasonNoCrossover}
	}

	book := g.loadLedger(ctx)
	if last, ok := book.LastAlert(symbol); ok && now.Sub(last) < g.cfg.Cooldown {
		return Decision{Reason: ReasonCooldownActive}
	}

	book.MarkAlerted(symbol, now)
	g.saveLedger(ctx, book)

	return Decision{
		CrossoverAlert: true,
		Reason:         ReasonValidCrossover,
		CrossoverType:  crossover,
		CurrentPrice:   series.Closes[len(series.Closes)-1],
		FastValue:      emaFast[len(emaFast)-1],
		SlowValue:      emaSlow[len(emaSlow)-1],
	}
}

// isFresh requires the latest candle to be within the freshness window. An
// empty timestamp sequence counts as stale.
func (g *Gate) isFresh(timestamps []int64, now time.Time) bool {
	if len(timestamps) == 0 {
		return false
	}
	latest := time.UnixMilli(timestamps[len(timestamps)-1])
	return now.Sub(latest) <= g.cfg.Freshness
}

// detectCrossover compares the last two entries of each series. The boundary
// equality on the previous pair belongs to the crossing event: a fast EMA
// sitting exactly on the slow line still crosses if it moves strictly past it
// on the current candle.
func detectCrossover(emaFast, emaSlow []float64) (CrossoverType, bool) {
	if len(emaFast) < 2 || len(emaSlow) < 2 {
		return "", false
	}

	prevFast, curFast := emaFast[len(emaFast)-2], emaFast[len(emaFast)-1]
	prevSlow, curSlow := emaSlow[len(emaSlow)-2], emaSlow[len(emaSlow)-1]

	if prevFast <= prevSlow && curFast > curSlow {
		return GoldenCross, true
	}
	if prevFast >= prevSlow && curFast < curSlow {
		return DeathCross, true
	}
	return "", false
}

// loadLedger degrades to an empty ledger on read faults. A persistence outage
// disables cooldown protection rather than suppressing the signal.
func (g *Gate) loadLedger(ctx context.Context) ledger.Ledger {
	book, err := g.store.Load(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("cooldown ledger unreadable; proceeding with empty ledger")
		return ledger.Ledger{}
	}
	return book
}

// saveLedger is best effort: a lost cooldown update is an accepted
// degradation, not a failure of the decision.
func (g *Gate) saveLedger(ctx context.Context, book ledger.Ledger) {
	if err := g.store.Save(ctx, book); err != nil {
		g.logger.Error().Err(err).Msg("failed to persist cooldown ledger")
	}
}
