package indicator

// ComputeEMA returns the exponential moving average series for prices.
//
// The result always has the same length as the input. Indices below period-1
// are zero placeholders, index period-1 is seeded with the simple average of
// the first period prices, and later entries follow the standard recursion
// ema[i] = p[i]*k + ema[i-1]*(1-k) with k = 2/(period+1). Callers must not
// compare placeholder entries against real values.
func ComputeEMA(prices []float64, period int) []float64 {
	ema := make([]float64, len(prices))
	if period < 1 || len(prices) < period {
		return ema
	}

	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	ema[period-1] = sum / float64(period)

	multiplier := 2 / float64(period+1)
	for i := period; i < len(prices); i++ {
		ema[i] = prices[i]*multiplier + ema[i-1]*(1-multiplier)
	}
	return ema
}
