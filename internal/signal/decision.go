package signal

// Series carries index-aligned closing prices and candle open timestamps in
// milliseconds since epoch, oldest first.
type Series struct {
	Closes     []float64
	Timestamps []int64
}

// Reason classifies the outcome of a gate evaluation.
type Reason string

const (
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonStaleData        Reason = "stale_data"
	ReasonNoCrossover      Reason = "no_crossover"
	ReasonCooldownActive   Reason = "cooldown_active"
	ReasonValidCrossover   Reason = "valid_crossover"
	ReasonAnalysisError    Reason = "analysis_error"
)

// CrossoverType labels the direction of a detected crossover.
type CrossoverType string

const (
	GoldenCross CrossoverType = "golden_cross"
	DeathCross  CrossoverType = "death_cross"
)

// Decision is the structured result of one gate evaluation. CrossoverType,
// CurrentPrice, and the EMA values are populated only for valid crossovers.
type Decision struct {
	CrossoverAlert bool
	Reason         Reason
	CrossoverType  CrossoverType
	CurrentPrice   float64
	FastValue      float64
	SlowValue      float64
}
