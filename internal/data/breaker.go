package data

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerRepo wraps a CandleRepo with a circuit breaker so a struggling
// database fails fast during bulk comparison loads instead of stalling
// every policy run behind timeouts.
type BreakerRepo struct {
	repo    CandleRepo
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerRepo wraps repo. The breaker opens after five consecutive
// failures and probes again after 30 seconds.
func NewBreakerRepo(repo CandleRepo, name string) *BreakerRepo {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("candle repository breaker state change")
		},
	}

	return &BreakerRepo{repo: repo, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// ListCandles executes the underlying query through the breaker.
func (r *BreakerRepo) ListCandles(ctx context.Context, symbol string, tr TimeRange, limit int) ([]Candle, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.repo.ListCandles(ctx, symbol, tr, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Candle), nil
}

// InsertBatch executes the underlying insert through the breaker.
func (r *BreakerRepo) InsertBatch(ctx context.Context, symbol string, candles []Candle) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.repo.InsertBatch(ctx, symbol, candles)
	})
	return err
}
