package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"ema-cross-alerts/internal/indicator"
)

// Export fetches a symbol's candle history and renders the close price with
// both EMA overlays as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	symbols := normalizeSymbols([]string{opts.Symbol})
	symbol := symbols[0]

	series, venue, err := a.newFetcher().FetchKlines(ctx, symbol)
	if err != nil {
		return err
	}

	slow := a.Config.Analysis.EMASlow
	if len(series.Closes) < slow {
		return fmt.Errorf("only %d candles available, need at least %d for the slow EMA", len(series.Closes), slow)
	}

	emaFast := indicator.ComputeEMA(series.Closes, a.Config.Analysis.EMAFast)
	emaSlow := indicator.ComputeEMA(series.Closes, slow)

	// Drop the placeholder prefix: entries below the slow seed are not real
	// EMA values and must not be plotted.
	offset := slow - 1
	points := exportPoints{
		times:   make([]time.Time, 0, len(series.Closes)-offset),
		closes:  series.Closes[offset:],
		emaFast: emaFast[offset:],
		emaSlow: emaSlow[offset:],
	}
	for _, ts := range series.Timestamps[offset:] {
		points.times = append(points.times, time.UnixMilli(ts).UTC())
	}
	points = downsamplePoints(points, opts.MaxPoints)

	a.Logger.Info().
		Str("symbol", symbol).
		Str("venue", venue).
		Int("points", len(points.times)).
		Msg("exporting candle history")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, symbol, points); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePointsPNG(opts.PNGPath, symbol, a.Config.Analysis.EMAFast, slow, points); err != nil {
			return err
		}
	}

	return nil
}

type exportPoints struct {
	times   []time.Time
	closes  []float64
	emaFast []float64
	emaSlow []float64
}

func downsamplePoints(points exportPoints, max int) exportPoints {
	if max <= 0 || len(points.times) <= max {
		return points
	}

	result := exportPoints{
		times:   make([]time.Time, 0, max),
		closes:  make([]float64, 0, max),
		emaFast: make([]float64, 0, max),
		emaSlow: make([]float64, 0, max),
	}
	step := float64(len(points.times)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points.times) {
			idx = len(points.times) - 1
		}
		result.times = append(result.times, points.times[idx])
		result.closes = append(result.closes, points.closes[idx])
		result.emaFast = append(result.emaFast, points.emaFast[idx])
		result.emaSlow = append(result.emaSlow, points.emaSlow[idx])
	}
	return result
}

func writePointsCSV(path, symbol string, points exportPoints) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"candle_ts", "symbol", "close", "ema_fast", "ema_slow"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i := range points.times {
		record := []string{
			points.times[i].Format(time.RFC3339),
			symbol,
			strconv.FormatFloat(points.closes[i], 'f', -1, 64),
			strconv.FormatFloat(points.emaFast[i], 'f', -1, 64),
			strconv.FormatFloat(points.emaSlow[i], 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePointsPNG(path, symbol string, fastPeriod, slowPeriod int, points exportPoints) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: points.times,
				YValues: points.closes,
			},
			chart.TimeSeries{
				Name:    fmt.Sprintf("EMA %d", fastPeriod),
				XValues: points.times,
				YValues: points.emaFast,
			},
			chart.TimeSeries{
				Name:    fmt.Sprintf("EMA %d", slowPeriod),
				XValues: points.times,
				YValues: points.emaSlow,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
