package fetcher

import (
	"context"

	"ema-cross-alerts/internal/signal"
)

// KlineFetcher retrieves a candle series for one symbol. The venue string
// names the market that actually served the data.
type KlineFetcher interface {
	FetchKlines(ctx context.Context, symbol string) (signal.Series, string, error)
}
