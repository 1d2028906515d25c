// Package perf evaluates recorded simulation histories into summary
// performance statistics and policy comparison tables. All functions are
// pure over the immutable snapshot sequence.
package perf

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Snapshot is the immutable per-step record produced by the simulation
// engine: valuation split plus the realized weight of every held asset.
type Snapshot struct {
	Timestamp      time.Time          `json:"ts"`
	Cash           float64            `json:"cash"`
	PositionsValue float64            `json:"positions_value"`
	TotalValue     float64            `json:"total_value"`
	Weights        map[string]float64 `json:"weights"`
}

// Report carries the scalar performance metrics for one simulated run.
type Report struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	AnnualizedVol    float64 `json:"annualized_vol"`
	Sharpe           float64 `json:"sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Periods          int     `json:"periods"`
	PeriodsPerYear   float64 `json:"periods_per_year"`
}

// ComparisonRow is one ranked entry of a multi-policy comparison.
type ComparisonRow struct {
	Rank   int    `json:"rank"`
	Policy string `json:"policy"`
	Report Report `json:"report"`
}

// EvaluatePortfolio computes cumulative return, annualized volatility,
// Sharpe ratio and maximum drawdown from a snapshot history. The
// periods-per-year factor is inferred from snapshot spacing when
// periodsPerYear is zero. The risk-free rate is annualized.
func EvaluatePortfolio(history []Snapshot, riskFreeRate, periodsPerYear float64) (Report, error) {
	if len(history) < 2 {
		return Report{}, fmt.Errorf("history too short to evaluate: %d snapshots", len(history))
	}
	if history[0].TotalValue <= 0 {
		return Report{}, fmt.Errorf("non-positive initial portfolio value: %.4f", history[0].TotalValue)
	}

	ppy := periodsPerYear
	if ppy <= 0 {
		ppy = inferPeriodsPerYear(history)
	}

	stepReturns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].TotalValue
		if prev <= 0 {
			return Report{}, fmt.Errorf("non-positive portfolio value at %s", history[i-1].Timestamp.Format(time.RFC3339))
		}
		stepReturns = append(stepReturns, history[i].TotalValue/prev-1.0)
	}

	total := history[len(history)-1].TotalValue/history[0].TotalValue - 1.0
	years := float64(len(stepReturns)) / ppy

	annReturn := 0.0
	if years > 0 {
		annReturn = math.Pow(1.0+total, 1.0/years) - 1.0
	}

	vol := stddev(stepReturns) * math.Sqrt(ppy)

	sharpe := 0.0
	if vol > 1e-12 {
		sharpe = (annReturn - riskFreeRate) / vol
	}

	return Report{
		TotalReturn:      total,
		AnnualizedReturn: annReturn,
		AnnualizedVol:    vol,
		Sharpe:           sharpe,
		MaxDrawdown:      maxDrawdown(history),
		Periods:          len(stepReturns),
		PeriodsPerYear:   ppy,
	}, nil
}

// ComparePortfolioPerformance evaluates each named history and returns a
// ranked comparison: total return descending, ties broken by lower
// volatility, then alphabetically by policy name.
func ComparePortfolioPerformance(histories map[string][]Snapshot, riskFreeRate, periodsPerYear float64) ([]ComparisonRow, error) {
	if len(histories) == 0 {
		return nil, fmt.Errorf("no histories to compare")
	}

	rows := make([]ComparisonRow, 0, len(histories))
	for name, history := range histories {
		report, err := EvaluatePortfolio(history, riskFreeRate, periodsPerYear)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", name, err)
		}
		rows = append(rows, ComparisonRow{Policy: name, Report: report})
	}

	sort.Slice(rows, func(i, j int) bool {
		ri, rj := rows[i].Report, rows[j].Report
		if ri.TotalReturn != rj.TotalReturn {
			return ri.TotalReturn > rj.TotalReturn
		}
		if ri.AnnualizedVol != rj.AnnualizedVol {
			return ri.AnnualizedVol < rj.AnnualizedVol
		}
		return rows[i].Policy < rows[j].Policy
	})

	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// maxDrawdown returns the largest peak-to-trough decline as a positive
// fraction of the peak value.
func maxDrawdown(history []Snapshot) float64 {
	peak := history[0].TotalValue
	worst := 0.0
	for _, snap := range history {
		if snap.TotalValue > peak {
			peak = snap.TotalValue
		}
		if peak > 0 {
			if dd := (peak - snap.TotalValue) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// inferPeriodsPerYear maps the median snapshot spacing onto a standard
// annualization factor: trading days, weeks, or months.
func inferPeriodsPerYear(history []Snapshot) float64 {
	gaps := make([]time.Duration, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		gaps = append(gaps, history[i].Timestamp.Sub(history[i-1].Timestamp))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := gaps[len(gaps)/2]

	switch {
	case median <= 26*time.Hour:
		return 252
	case median <= 8*24*time.Hour:
		return 52
	default:
		return 12
	}
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sum := 0.0
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
