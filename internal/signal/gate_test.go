package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ema-cross-alerts/internal/ledger"
)

// flatThenLast builds a series of bars flat candles at base with the final
// close replaced by last. With a flat history both EMAs settle exactly on
// base, so the previous pair sits on the boundary and the final candle decides
// the crossover direction.
func flatThenLast(bars int, base, last float64, latest time.Time, interval time.Duration) Series {
	closes := make([]float64, bars)
	stamps := make([]int64, bars)
	for i := range closes {
		closes[i] = base
		stamps[i] = latest.Add(-time.Duration(bars-1-i) * interval).UnixMilli()
	}
	closes[bars-1] = last
	return Series{Closes: closes, Timestamps: stamps}
}

func newTestGate(t *testing.T, cfg Config, now time.Time) (*Gate, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.json")
	gate := NewGate(cfg, ledger.NewFileStore(path), zerolog.Nop())
	gate.now = func() time.Time { return now }
	return gate, path
}

func TestAnalyzeInsufficientData(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate, _ := newTestGate(t, DefaultConfig(), now)

	series := flatThenLast(99, 100, 150, now.Add(-time.Minute), 30*time.Minute)
	got := gate.Analyze(context.Background(), series, "BTCUSDT")

	if got.CrossoverAlert || got.Reason != ReasonInsufficientData {
		t.Fatalf("99 根 K 线应返回 insufficient_data, 实际 %+v", got)
	}
}

func TestAnalyzeStaleData(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate, _ := newTestGate(t, DefaultConfig(), now)

	// Perfect golden-cross pattern, but the latest candle is 45 minutes old.
	series := flatThenLast(120, 100, 150, now.Add(-45*time.Minute), 30*time.Minute)
	got := gate.Analyze(context.Background(), series, "BTCUSDT")

	if got.Reason != ReasonStaleData {
		t.Fatalf("want stale_data, got %+v", got)
	}
}

func TestAnalyzeGoldenCrossThenCooldown(t *testing.T) {
	start := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate, path := newTestGate(t, DefaultConfig(), start)
	ctx := context.Background()

	series := flatThenLast(120, 100, 150, start.Add(-time.Minute), 30*time.Minute)
	first := gate.Analyze(ctx, series, "BTCUSDT")

	if !first.CrossoverAlert || first.Reason != ReasonValidCrossover {
		t.Fatalf("expected valid crossover, got %+v", first)
	}
	if first.CrossoverType != GoldenCross {
		t.Fatalf("expected golden_cross, got %q", first.CrossoverType)
	}
	if first.CurrentPrice != 150 {
		t.Fatalf("current price should be the last close, got %v", first.CurrentPrice)
	}
	if first.FastValue <= first.SlowValue {
		t.Fatalf("fast EMA should sit above slow after the cross: %+v", first)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("commit should persist the ledger: %v", err)
	}

	// Another valid crossover one simulated hour later stays suppressed.
	later := start.Add(time.Hour)
	gate.now = func() time.Time { return later }
	series = flatThenLast(120, 100, 150, later.Add(-time.Minute), 30*time.Minute)
	second := gate.Analyze(ctx, series, "BTCUSDT")

	if second.CrossoverAlert || second.Reason != ReasonCooldownActive {
		t.Fatalf("冷却期内应返回 cooldown_active, 实际 %+v", second)
	}

	// A different symbol is not affected by BTCUSDT's cooldown.
	other := gate.Analyze(ctx, series, "ETHUSDT")
	if other.Reason != ReasonValidCrossover {
		t.Fatalf("cooldown must be per symbol, got %+v", other)
	}

	// Once the window has elapsed the symbol re-arms by wall clock alone.
	after := start.Add(12*time.Hour + time.Minute)
	gate.now = func() time.Time { return after }
	series = flatThenLast(120, 100, 150, after.Add(-time.Minute), 30*time.Minute)
	third := gate.Analyze(ctx, series, "BTCUSDT")

	if third.Reason != ReasonValidCrossover {
		t.Fatalf("expected re-armed crossover after cooldown, got %+v", third)
	}
}

func TestAnalyzeDeathCross(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate, _ := newTestGate(t, DefaultConfig(), now)

	series := flatThenLast(120, 100, 60, now.Add(-time.Minute), 30*time.Minute)
	got := gate.Analyze(context.Background(), series, "BTCUSDT")

	if got.Reason != ReasonValidCrossover || got.CrossoverType != DeathCross {
		t.Fatalf("expected death_cross, got %+v", got)
	}
}

func TestAnalyzeNoCrossoverIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate, path := newTestGate(t, DefaultConfig(), now)
	ctx := context.Background()

	// Fully flat series: previous and current pairs are equal, which is not a
	// strict move past the other line.
	series := flatThenLast(120, 100, 100, now.Add(-time.Minute), 30*time.Minute)

	first := gate.Analyze(ctx, series, "BTCUSDT")
	second := gate.Analyze(ctx, series, "BTCUSDT")

	if first.Reason != ReasonNoCrossover || second != first {
		t.Fatalf("non-committing path drifted: %+v vs %+v", first, second)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("no_crossover 路径不应写入账本")
	}
}

func TestDetectCrossoverBoundaryTieBreak(t *testing.T) {
	// Previous fast exactly on the slow line, then strictly above: still a
	// golden cross.
	if got, ok := detectCrossover([]float64{5, 6}, []float64{5, 5}); !ok || got != GoldenCross {
		t.Fatalf("boundary golden cross missed: %q %v", got, ok)
	}
	if got, ok := detectCrossover([]float64{5, 4}, []float64{5, 5}); !ok || got != DeathCross {
		t.Fatalf("boundary death cross missed: %q %v", got, ok)
	}
	if _, ok := detectCrossover([]float64{5, 5}, []float64{5, 5}); ok {
		t.Fatal("equal current values are not a crossover")
	}
	if _, ok := detectCrossover([]float64{6}, []float64{5}); ok {
		t.Fatal("fewer than two entries cannot cross")
	}
}

type faultingStore struct {
	loadErr error
	saveErr error
	panicOn bool
	saved   []ledger.Ledger
}

func (f *faultingStore) Load(ctx context.Context) (ledger.Ledger, error) {
	if f.panicOn {
		panic("ledger backend exploded")
	}
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return ledger.Ledger{}, nil
}

func (f *faultingStore) Save(ctx context.Context, l ledger.Ledger) error {
	f.saved = append(f.saved, l)
	return f.saveErr
}

func TestAnalyzeRecoversPanicAsAnalysisError(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	gate := NewGate(DefaultConfig(), &faultingStore{panicOn: true}, zerolog.Nop())
	gate.now = func() time.Time { return now }

	series := flatThenLast(120, 100, 150, now.Add(-time.Minute), 30*time.Minute)
	got := gate.Analyze(context.Background(), series, "BTCUSDT")

	if got.CrossoverAlert || got.Reason != ReasonAnalysisError {
		t.Fatalf("panic 必须转换为 analysis_error, 实际 %+v", got)
	}
}

func TestAnalyzeSwallowsLedgerFaults(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	store := &faultingStore{loadErr: os.ErrPermission, saveErr: os.ErrPermission}
	gate := NewGate(DefaultConfig(), store, zerolog.Nop())
	gate.now = func() time.Time { return now }

	series := flatThenLast(120, 100, 150, now.Add(-time.Minute), 30*time.Minute)
	got := gate.Analyze(context.Background(), series, "BTCUSDT")

	if got.Reason != ReasonValidCrossover {
		t.Fatalf("ledger faults must not suppress the signal, got %+v", got)
	}
	if len(store.saved) != 1 {
		t.Fatalf("commit should still attempt a save, got %d", len(store.saved))
	}
}
