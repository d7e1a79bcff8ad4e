package ledger

import (
	"context"
	"math"
	"time"
)

// Entry records the most recent alert emission for one symbol.
type Entry struct {
	LastAlertTime float64 `json:"last_alert_time"`
}

// Ledger maps symbols to their cooldown entries. The zero value of a missing
// symbol means no prior alert, so the cooldown is never active for it.
type Ledger map[string]Entry

// LastAlert returns the recorded alert time for symbol, if any.
func (l Ledger) LastAlert(symbol string) (time.Time, bool) {
	entry, ok := l[symbol]
	if !ok {
		return time.Time{}, false
	}
	sec, frac := math.Modf(entry.LastAlertTime)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), true
}

// MarkAlerted records an alert emission for symbol at the given time.
func (l Ledger) MarkAlerted(symbol string, at time.Time) {
	l[symbol] = Entry{LastAlertTime: float64(at.UnixNano()) / float64(time.Second)}
}

// Store is the durable backing for the cooldown ledger. Implementations must
// survive process restarts; get/set granularity is the whole map keyed by
// symbol.
type Store interface {
	Load(ctx context.Context) (Ledger, error)
	Save(ctx context.Context, l Ledger) error
}
