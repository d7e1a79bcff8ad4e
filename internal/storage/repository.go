package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ema-cross-alerts/internal/ledger"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO crossover_alerts (
        symbol,
        alert_ts,
        crossover_type,
        price,
        ema_fast,
        ema_slow,
        venue
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, symbol, alert_ts, crossover_type, price, ema_fast, ema_slow, venue, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        alert_ts,
        crossover_type,
        price,
        ema_fast,
        ema_slow,
        venue,
        created_at
    FROM crossover_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM crossover_alerts WHERE created_at < $1;`

	loadCooldownsSQL = `SELECT symbol, last_alert_ts FROM cooldowns;`

	upsertCooldownSQL = `INSERT INTO cooldowns (symbol, last_alert_ts)
    VALUES ($1, $2)
    ON CONFLICT (symbol) DO UPDATE
    SET last_alert_ts = EXCLUDED.last_alert_ts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for crossover alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres access to the alert audit trail and the cooldown
// ledger backing.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.AlertTS,
		alert.CrossoverType,
		alert.Price.String(),
		alert.FastEMA.String(),
		alert.SlowEMA.String(),
		alert.Venue,
	)

	rec, scanErr := scanAlertRecord(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// Load reads the whole cooldown ledger, satisfying ledger.Store.
func (s *Store) Load(ctx context.Context) (ledger.Ledger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadCooldownsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load cooldowns: %w", queryErr)
	}
	defer rows.Close()

	book := ledger.Ledger{}
	for rows.Next() {
		var symbol string
		var lastAlert time.Time
		if err := rows.Scan(&symbol, &lastAlert); err != nil {
			return nil, fmt.Errorf("scan cooldown row: %w", err)
		}
		book.MarkAlerted(symbol, lastAlert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return book, nil
}

// Save upserts every ledger entry. Watchlists are small, so writing the full
// map keeps the contract simple and idempotent.
func (s *Store) Save(ctx context.Context, book ledger.Ledger) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	for symbol := range book {
		lastAlert, ok := book.LastAlert(symbol)
		if !ok {
			continue
		}
		if _, execErr := pool.Exec(ctx, upsertCooldownSQL, symbol, lastAlert); execErr != nil {
			return fmt.Errorf("upsert cooldown for %s: %w", symbol, execErr)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlertRecord(row rowScanner) (AlertRecord, error) {
	var (
		rec      AlertRecord
		priceStr string
		fastStr  string
		slowStr  string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.AlertTS,
		&rec.CrossoverType,
		&priceStr,
		&fastStr,
		&slowStr,
		&rec.Venue,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.Price, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	rec.FastEMA, convErr = decimal.NewFromString(fastStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse ema_fast: %w", convErr)
	}
	rec.SlowEMA, convErr = decimal.NewFromString(slowStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse ema_slow: %w", convErr)
	}

	return rec, nil
}

var _ AlertStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
var _ ledger.Store = (*Store)(nil)
