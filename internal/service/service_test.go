package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ema-cross-alerts/internal/config"
	"ema-cross-alerts/internal/ledger"
	"ema-cross-alerts/internal/signal"
	"ema-cross-alerts/internal/storage"
)

type fakeFetcher struct {
	series map[string]signal.Series
}

func (f *fakeFetcher) FetchKlines(ctx context.Context, symbol string) (signal.Series, string, error) {
	s, ok := f.series[symbol]
	if !ok {
		return signal.Series{}, "", errors.New("no market data")
	}
	return s, "bingx-perpetual", nil
}

type recordingAlertStore struct {
	inserted []storage.AlertRecord
	pruned   int
}

func (r *recordingAlertStore) InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	r.inserted = append(r.inserted, alert)
	return alert, nil
}

func (r *recordingAlertStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.AlertRecord, error) {
	return r.inserted, nil
}

func (r *recordingAlertStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	r.pruned++
	return nil
}

// goldenSeries builds a flat history with a final jump, which produces a
// golden cross on the last candle for any fast/slow pair.
func goldenSeries(bars int) signal.Series {
	closes := make([]float64, bars)
	stamps := make([]int64, bars)
	latest := time.Now().Add(-time.Minute)
	for i := range closes {
		closes[i] = 100
		stamps[i] = latest.Add(-time.Duration(bars-1-i) * 30 * time.Minute).UnixMilli()
	}
	closes[bars-1] = 140
	return signal.Series{Closes: closes, Timestamps: stamps}
}

func flatSeries(bars int) signal.Series {
	s := goldenSeries(bars)
	s.Closes[bars-1] = 100
	return s
}

func newTestService(t *testing.T, klines *fakeFetcher, store *recordingAlertStore, symbols []string) *Service {
	t.Helper()

	cfg := &config.Config{
		Alerts: config.AlertsConfig{Retention: 30 * 24 * time.Hour},
	}
	gate := signal.NewGate(
		signal.DefaultConfig(),
		ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json")),
		zerolog.Nop(),
	)

	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
	}
	return New(cfg, nil, klines, gate, alertStore, symbols, zerolog.Nop())
}

func TestSweepRecordsAlertsAndSurvivesFetchErrors(t *testing.T) {
	klines := &fakeFetcher{series: map[string]signal.Series{
		"BTCUSDT": goldenSeries(120),
		"ETHUSDT": flatSeries(120),
	}}
	store := &recordingAlertStore{}
	svc := newTestService(t, klines, store, []string{"BTCUSDT", "ETHUSDT", "MISSINGUSDT"})

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("扫描不应因单个符号失败而报错: %v", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected exactly one audit row, got %d", len(store.inserted))
	}
	rec := store.inserted[0]
	if rec.Symbol != "BTCUSDT" || rec.CrossoverType != string(signal.GoldenCross) {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
	if rec.Venue != "bingx-perpetual" {
		t.Fatalf("venue should be recorded, got %q", rec.Venue)
	}
	if store.pruned != 1 {
		t.Fatalf("sweep should prune the audit trail once, got %d", store.pruned)
	}
}

func TestSweepWithoutAlertStore(t *testing.T) {
	klines := &fakeFetcher{series: map[string]signal.Series{
		"BTCUSDT": goldenSeries(120),
	}}
	svc := newTestService(t, klines, nil, []string{"BTCUSDT"})

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("无审计存储时扫描应正常完成: %v", err)
	}
}

func TestSweepHonoursContextCancellation(t *testing.T) {
	klines := &fakeFetcher{series: map[string]signal.Series{}}
	svc := newTestService(t, klines, nil, []string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}
