// Package postgres implements the candle repository on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/portrun/internal/data"
)

// candlesRepo implements data.CandleRepo against a candles table keyed by
// (symbol, ts).
type candlesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCandlesRepo creates a PostgreSQL candle repository.
func NewCandlesRepo(db *sqlx.DB, timeout time.Duration) data.CandleRepo {
	return &candlesRepo{db: db, timeout: timeout}
}

// Connect opens a pooled connection to Postgres.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// ListCandles retrieves candles for a symbol within [From, To), oldest
// first. limit <= 0 means no limit.
func (r *candlesRepo) ListCandles(ctx context.Context, symbol string, tr data.TimeRange, limit int) ([]data.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`
	args := []interface{}{symbol, tr.From, tr.To}

	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	var candles []data.Candle
	if err := r.db.SelectContext(ctx, &candles, query, args...); err != nil {
		return nil, fmt.Errorf("list candles for %s: %w", symbol, err)
	}
	return candles, nil
}

// InsertBatch loads a candle series atomically; duplicate (symbol, ts)
// rows are reported as such.
func (r *candlesRepo) InsertBatch(ctx context.Context, symbol string, candles []data.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(candles)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candle batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate candle %s@%s: %w", symbol, c.Timestamp.Format(time.RFC3339), err)
			}
			return fmt.Errorf("insert candle %s@%s: %w", symbol, c.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candle batch: %w", err)
	}
	return nil
}
