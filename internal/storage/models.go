package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures an emitted crossover alert for auditing. Prices and
// EMA values are kept as decimals at rest even though the indicator math runs
// on float64.
type AlertRecord struct {
	ID            int64
	Symbol        string
	AlertTS       time.Time
	CrossoverType string
	Price         decimal.Decimal
	FastEMA       decimal.Decimal
	SlowEMA       decimal.Decimal
	Venue         string
	CreatedAt     time.Time
}
