package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ema-cross-alerts/internal/signal"
)

const (
	perpKlinePath = "/openApi/swap/v2/quote/klines"
	spotKlinePath = "/openApi/spot/v1/market/kline"

	venuePerpetual = "bingx-perpetual"
	venueSpot      = "bingx-spot"
)

// BingXOptions parameterise the BingX kline fetcher.
type BingXOptions struct {
	BaseURL   string
	Interval  string
	Limit     int
	Timeout   time.Duration
	UserAgent string
}

// BingX fetches OHLCV candles from BingX, trying the perpetuals market first
// and falling back to spot for symbols without a perpetual listing.
type BingX struct {
	opts    BingXOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBingX constructs a BingX fetcher.
func NewBingX(opts BingXOptions, logger zerolog.Logger) *BingX {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://open-api.bingx.com"
	}
	if opts.Interval == "" {
		opts.Interval = "30m"
	}
	if opts.Limit <= 0 {
		opts.Limit = 200
	}

	return &BingX{
		opts:    opts,
		logger:  logger.With().Str("component", "bingx_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchKlines returns the candle series for symbol, newest candle last.
func (b *BingX) FetchKlines(ctx context.Context, symbol string) (signal.Series, string, error) {
	series, perpErr := b.fetch(ctx, perpKlinePath, symbol)
	if perpErr == nil {
		return series, venuePerpetual, nil
	}

	b.logger.Debug().Err(perpErr).Str("symbol", symbol).Msg("perpetual klines unavailable, trying spot")

	series, spotErr := b.fetch(ctx, spotKlinePath, spotSymbol(symbol))
	if spotErr == nil {
		return series, venueSpot, nil
	}

	return signal.Series{}, "", fmt.Errorf("fetch klines for %s: perpetual: %w; spot: %v", symbol, perpErr, spotErr)
}

func (b *BingX) fetch(ctx context.Context, path, symbol string) (signal.Series, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", b.opts.Interval)
	query.Set("limit", strconv.Itoa(b.opts.Limit))

	endpoint := b.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return signal.Series{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "emawatcher/1.0")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return signal.Series{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return signal.Series{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return signal.Series{}, fmt.Errorf("bingx api status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope klineResponse
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return signal.Series{}, fmt.Errorf("decode kline response: %w", err)
	}
	if envelope.Code != 0 {
		return signal.Series{}, fmt.Errorf("bingx api error %d: %s", envelope.Code, envelope.Msg)
	}
	if len(envelope.Data) == 0 {
		return signal.Series{}, fmt.Errorf("bingx returned no candles for %s", symbol)
	}

	return parseCandles(envelope.Data)
}

type klineResponse struct {
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data [][]any `json:"data"`
}

// parseCandles converts raw kline rows [ts, open, high, low, close, volume]
// into an aligned series. BingX encodes timestamps as numbers and prices as
// either numbers or strings depending on the market.
func parseCandles(rows [][]any) (signal.Series, error) {
	series := signal.Series{
		Closes:     make([]float64, 0, len(rows)),
		Timestamps: make([]int64, 0, len(rows)),
	}

	for i, row := range rows {
		if len(row) < 6 {
			return signal.Series{}, fmt.Errorf("kline row %d too short: %d fields", i, len(row))
		}

		ts, err := toFloat(row[0])
		if err != nil {
			return signal.Series{}, fmt.Errorf("kline row %d timestamp: %w", i, err)
		}
		closePrice, err := toFloat(row[4])
		if err != nil {
			return signal.Series{}, fmt.Errorf("kline row %d close: %w", i, err)
		}

		series.Timestamps = append(series.Timestamps, int64(ts))
		series.Closes = append(series.Closes, closePrice)
	}

	return series, nil
}

func toFloat(v any) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case string:
		return strconv.ParseFloat(value, 64)
	case json.Number:
		return value.Float64()
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// spotSymbol converts a perpetual style symbol (BTCUSDT) into the spot API
// form (BTC-USDT).
func spotSymbol(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	if strings.HasSuffix(symbol, "USDT") {
		return strings.TrimSuffix(symbol, "USDT") + "-USDT"
	}
	return symbol
}

var _ KlineFetcher = (*BingX)(nil)
