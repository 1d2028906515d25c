// Package data supplies pre-loaded, time-indexed OHLCV market data to the
// simulation engine. Candles are loaded up front (CSV, Postgres, or a
// Redis cache in between); the engine never performs I/O mid-run.
package data

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Candle is one OHLCV row for a single asset.
type Candle struct {
	Timestamp time.Time `json:"ts" db:"ts"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// TimeRange bounds a data query, inclusive of From, exclusive of To.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CandleRepo loads candle history for one symbol. Implementations:
// Postgres-backed repository, breaker-wrapped repository, Redis-cached
// repository.
type CandleRepo interface {
	ListCandles(ctx context.Context, symbol string, tr TimeRange, limit int) ([]Candle, error)
	InsertBatch(ctx context.Context, symbol string, candles []Candle) error
}

// Frame is the in-memory price table the simulation walks: a sorted union
// of timestamps across all symbols with per-symbol close columns. A
// missing quote at a step is represented as NaN; consumers carry the last
// known price forward.
type Frame struct {
	symbols    []string
	timestamps []time.Time
	closes     map[string][]float64
}

// NewFrame aligns per-symbol candle series onto the union of their
// timestamps. Symbols are stored sorted for deterministic iteration.
func NewFrame(series map[string][]Candle) (*Frame, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no candle series supplied")
	}

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tsSet := make(map[int64]time.Time)
	for _, candles := range series {
		for _, c := range candles {
			tsSet[c.Timestamp.UnixNano()] = c.Timestamp
		}
	}
	if len(tsSet) == 0 {
		return nil, fmt.Errorf("candle series contain no timestamps")
	}

	timestamps := make([]time.Time, 0, len(tsSet))
	for _, ts := range tsSet {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	index := make(map[int64]int, len(timestamps))
	for i, ts := range timestamps {
		index[ts.UnixNano()] = i
	}

	closes := make(map[string][]float64, len(symbols))
	for _, sym := range symbols {
		col := make([]float64, len(timestamps))
		for i := range col {
			col[i] = math.NaN()
		}
		for _, c := range series[sym] {
			if c.Close <= 0 {
				return nil, fmt.Errorf("symbol %s: non-positive close %.4f at %s", sym, c.Close, c.Timestamp.Format(time.RFC3339))
			}
			col[index[c.Timestamp.UnixNano()]] = c.Close
		}
		closes[sym] = col
	}

	return &Frame{symbols: symbols, timestamps: timestamps, closes: closes}, nil
}

// Symbols returns the tracked symbols in sorted order.
func (f *Frame) Symbols() []string {
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

// Timestamps returns the full sorted time index.
func (f *Frame) Timestamps() []time.Time {
	out := make([]time.Time, len(f.timestamps))
	copy(out, f.timestamps)
	return out
}

// WindowIndices returns the index span [lo, hi) covering timestamps in
// [start, end).
func (f *Frame) WindowIndices(start, end time.Time) (int, int) {
	lo := sort.Search(len(f.timestamps), func(i int) bool { return !f.timestamps[i].Before(start) })
	hi := sort.Search(len(f.timestamps), func(i int) bool { return !f.timestamps[i].Before(end) })
	return lo, hi
}

// Price returns the close of symbol at step idx. ok is false when the
// quote is missing at that step.
func (f *Frame) Price(symbol string, idx int) (float64, bool) {
	col, exists := f.closes[symbol]
	if !exists || idx < 0 || idx >= len(col) {
		return 0, false
	}
	if math.IsNaN(col[idx]) {
		return 0, false
	}
	return col[idx], true
}

// Timestamp returns the time of step idx.
func (f *Frame) Timestamp(idx int) time.Time {
	return f.timestamps[idx]
}

// Len returns the number of steps in the frame.
func (f *Frame) Len() int {
	return len(f.timestamps)
}

// ReturnsWindow computes trailing simple returns per symbol over at most
// window steps ending at endIdx inclusive. Missing quotes are filled by
// carrying the last known price forward, matching the engine's staleness
// rule; symbols with no price yet contribute zero returns.
func (f *Frame) ReturnsWindow(endIdx, window int) ([]string, [][]float64) {
	startIdx := endIdx - window
	if startIdx < 0 {
		startIdx = 0
	}

	series := make([][]float64, len(f.symbols))
	for i, sym := range f.symbols {
		col := f.closes[sym]
		prices := make([]float64, 0, endIdx-startIdx+1)
		last := math.NaN()
		// Seed the carry-forward with the last quote before the window.
		for t := 0; t <= endIdx; t++ {
			if !math.IsNaN(col[t]) {
				last = col[t]
			}
			if t >= startIdx {
				prices = append(prices, last)
			}
		}

		returns := make([]float64, 0, len(prices)-1)
		for t := 1; t < len(prices); t++ {
			if math.IsNaN(prices[t-1]) || math.IsNaN(prices[t]) {
				returns = append(returns, 0)
				continue
			}
			returns = append(returns, prices[t]/prices[t-1]-1.0)
		}
		series[i] = returns
	}

	return f.Symbols(), series
}
