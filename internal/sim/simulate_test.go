package sim

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/portrun/internal/data"
	"github.com/sawpanic/portrun/internal/policy"
)

var simStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// dailyFrame builds a frame with one candle per calendar day per symbol.
// NaN entries leave a gap at that step.
func dailyFrame(t *testing.T, prices map[string][]float64) *data.Frame {
	t.Helper()
	series := make(map[string][]data.Candle)
	for sym, ps := range prices {
		for i, price := range ps {
			if math.IsNaN(price) {
				continue
			}
			ts := simStart.AddDate(0, 0, i)
			series[sym] = append(series[sym], data.Candle{
				Timestamp: ts, Open: price, High: price, Low: price, Close: price, Volume: 1000,
			})
		}
	}
	frame, err := data.NewFrame(series)
	require.NoError(t, err)
	return frame
}

func constant(price float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

// scriptedPolicy replays a fixed sequence of target weights.
type scriptedPolicy struct {
	calls   int
	scripts []map[string]float64
}

func (s *scriptedPolicy) Name() string { return "scripted" }

func (s *scriptedPolicy) Optimize(_ policy.ReturnSet, _ map[string]float64) (map[string]float64, error) {
	i := s.calls
	s.calls++
	if i >= len(s.scripts) {
		i = len(s.scripts) - 1
	}
	return s.scripts[i], nil
}

type failingPolicy struct{}

func (failingPolicy) Name() string { return "failing" }

func (failingPolicy) Optimize(policy.ReturnSet, map[string]float64) (map[string]float64, error) {
	return nil, fmt.Errorf("%w: induced failure", policy.ErrOptimization)
}

func TestSimulate_EqualWeightTwoAssets(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{
		"AAA": constant(100, 3),
		"BBB": constant(50, 3),
	})

	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	err = p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 3), "monthly")
	require.NoError(t, err)

	positions := p.Positions()
	assert.InDelta(t, 500, positions["AAA"].Quantity, 1e-9)
	assert.InDelta(t, 1000, positions["BBB"].Quantity, 1e-9)
	assert.InDelta(t, 0, p.Cash(), 1e-9)

	history := p.History()
	require.Len(t, history, 3)
	for _, snap := range history {
		assert.InDelta(t, 100_000, snap.TotalValue, 1e-6)
		assert.InDelta(t, 0.5, snap.Weights["AAA"], 1e-9)
		assert.InDelta(t, 0.5, snap.Weights["BBB"], 1e-9)
		assert.InDelta(t, snap.TotalValue, snap.Cash+snap.PositionsValue, 1e-6)
	}

	orders := p.Orders()
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, SideBuy, o.Side)
	}
}

func TestSimulate_DateRangeValidation(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{"AAA": constant(100, 5)})
	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	err = p.Simulate(context.Background(), frame, simStart.AddDate(0, 0, 3), simStart, "daily")
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	err = p.Simulate(context.Background(), frame, simStart.AddDate(1, 0, 0), simStart.AddDate(1, 0, 5), "daily")
	assert.ErrorIs(t, err, ErrInvalidDateRange, "window past the data should be rejected")
}

func TestSimulate_CompletedPortfolioRejectsMutation(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{"AAA": constant(100, 5)})
	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	_, err = p.Results()
	assert.ErrorIs(t, err, ErrInvalidState, "results before simulating should be rejected")

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 5), "daily"))

	_, err = p.Results()
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State())

	err = p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 5), "daily")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = p.Results()
	assert.ErrorIs(t, err, ErrInvalidState, "results are computed once")
}

func TestSimulate_FallbackOnOptimizationFailure(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{
		"AAA": constant(100, 4),
		"BBB": constant(50, 4),
	})

	cfg := DefaultConfig()
	cfg.Frequency = "daily"
	p, err := NewPortfolio(failingPolicy{}, cfg)
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 4), ""))

	rebalances, fallbacks := p.Rebalances()
	assert.Equal(t, 4, rebalances)
	assert.Equal(t, 4, fallbacks, "every rebalance should have used the fallback")

	weights := p.CurrentWeights()
	assert.InDelta(t, 0.5, weights["AAA"], 1e-9)
	assert.InDelta(t, 0.5, weights["BBB"], 1e-9)
}

func TestSimulate_SingularCovarianceFallsBack(t *testing.T) {
	// Identical return series make the covariance matrix singular, so
	// mean-variance fails at every rebalance and equal weight takes over.
	n := 10
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		factor := 1.0 + 0.01*float64(i%2)
		if i == 0 {
			a[i], b[i] = 100, 50
		} else {
			a[i] = a[i-1] * factor
			b[i] = b[i-1] * factor
		}
	}
	frame := dailyFrame(t, map[string][]float64{"AAA": a, "BBB": b})

	cfg := DefaultConfig()
	cfg.Frequency = "daily"
	p, err := NewPortfolio(policy.NewMeanVariance(policy.DefaultConfig()), cfg)
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, n), ""))

	rebalances, fallbacks := p.Rebalances()
	assert.Equal(t, rebalances, fallbacks)
	assert.Greater(t, fallbacks, 0)
}

func TestSimulate_AbortsWithoutFallback(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{"AAA": constant(100, 3)})

	cfg := DefaultConfig()
	cfg.Fallback = nil
	p, err := NewPortfolio(failingPolicy{}, cfg)
	require.NoError(t, err)

	err = p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 3), "daily")
	assert.ErrorIs(t, err, policy.ErrOptimization)
}

func TestSimulate_TargetSwitchSellsOut(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{
		"AAA": constant(100, 2),
		"BBB": constant(50, 2),
	})

	pol := &scriptedPolicy{scripts: []map[string]float64{
		{"AAA": 1.0},
		{"BBB": 1.0},
	}}
	cfg := DefaultConfig()
	cfg.Frequency = "daily"
	p, err := NewPortfolio(pol, cfg)
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 2), ""))

	positions := p.Positions()
	_, holdsA := positions["AAA"]
	assert.False(t, holdsA, "fully sold position should be removed")
	assert.InDelta(t, 2000, positions["BBB"].Quantity, 1e-9)
	assert.InDelta(t, 0, p.Cash(), 1e-9)
}

func TestSimulate_StaleQuoteCarriesForward(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{
		"AAA": {100, math.NaN(), 100},
		"BBB": constant(50, 3),
	})

	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 3), "monthly"))

	history := p.History()
	require.Len(t, history, 3)
	assert.InDelta(t, 100_000, history[1].TotalValue, 1e-6, "stale position keeps its last value")

	positions := p.Positions()
	assert.False(t, positions["AAA"].Stale, "staleness clears once a quote returns")
}

func TestSimulate_CashInvariants(t *testing.T) {
	n := 40
	a := make([]float64, n)
	b := make([]float64, n)
	a[0], b[0] = 87.3, 41.9
	for i := 1; i < n; i++ {
		a[i] = a[i-1] * (1.0 + 0.013*math.Sin(float64(i)))
		b[i] = b[i-1] * (1.0 - 0.009*math.Cos(float64(i)*1.7))
	}
	frame := dailyFrame(t, map[string][]float64{"AAA": a, "BBB": b})

	cfg := DefaultConfig()
	cfg.Frequency = "daily"
	cfg.CostRate = 0.002
	p, err := NewPortfolio(policy.NewRiskParity(policy.DefaultConfig()), cfg)
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, n), ""))

	for _, snap := range p.History() {
		assert.GreaterOrEqual(t, snap.Cash, -1e-9, "cash must never go negative")
		assert.InDelta(t, snap.TotalValue, snap.Cash+snap.PositionsValue, 1e-6)
	}
}

func TestSimulate_PartialFillWhenCostsExcluded(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{"AAA": constant(100, 2)})

	pol := &scriptedPolicy{scripts: []map[string]float64{{"AAA": 1.0}}}
	cfg := DefaultConfig()
	cfg.Frequency = "daily"
	cfg.CostRate = 0.01
	cfg.CostInTarget = false
	p, err := NewPortfolio(pol, cfg)
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, 2), ""))

	// Full-value sizing would buy 1000 shares costing 101000; the fill
	// scales down to what cash covers.
	positions := p.Positions()
	assert.InDelta(t, 990, positions["AAA"].Quantity, 1e-9)
	assert.GreaterOrEqual(t, p.Cash(), 0.0)
}

func TestSimulate_MonthlyScheduleCounts(t *testing.T) {
	n := 70 // spans january through early march
	frame := dailyFrame(t, map[string][]float64{
		"AAA": constant(100, n),
		"BBB": constant(50, n),
	})

	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, n), "monthly"))

	rebalances, _ := p.Rebalances()
	assert.Equal(t, 3, rebalances, "first step plus the february and march boundaries")
}

func TestSimulate_DeterministicReplay(t *testing.T) {
	n := 30
	a := make([]float64, n)
	b := make([]float64, n)
	a[0], b[0] = 100, 50
	for i := 1; i < n; i++ {
		a[i] = a[i-1] * (1.012 - 0.004*float64(i%3))
		b[i] = b[i-1] * (1.003 + 0.002*float64(i%2))
	}
	frame := dailyFrame(t, map[string][]float64{"AAA": a, "BBB": b})

	run := func() ([]Order, []float64) {
		pol, err := policy.New("max_sharpe", policy.DefaultConfig())
		require.NoError(t, err)
		cfg := DefaultConfig()
		cfg.Frequency = "weekly"
		p, err := NewPortfolio(pol, cfg)
		require.NoError(t, err)
		require.NoError(t, p.Simulate(context.Background(), frame, simStart, simStart.AddDate(0, 0, n), ""))
		totals := make([]float64, 0, n)
		for _, snap := range p.History() {
			totals = append(totals, snap.TotalValue)
		}
		return p.Orders(), totals
	}

	orders1, totals1 := run()
	orders2, totals2 := run()
	assert.Equal(t, orders1, orders2)
	assert.Equal(t, totals1, totals2)
}

func TestSimulate_ContextCancellation(t *testing.T) {
	frame := dailyFrame(t, map[string][]float64{"AAA": constant(100, 5)})
	p, err := NewPortfolio(policy.NewEqualWeight(), DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.Simulate(ctx, frame, simStart, simStart.AddDate(0, 0, 5), "daily")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduleFor(t *testing.T) {
	tests := []struct {
		frequency string
		prev, cur time.Time
		want      bool
	}{
		{"daily", day(0), day(0), false},
		{"daily", day(0), day(1), true},
		{"weekly", day(0), day(5), false},  // mon..sat, same iso week
		{"weekly", day(5), day(7), true},   // into the next week
		{"monthly", day(0), day(30), false},
		{"monthly", day(30), day(31), true}, // jan 31 -> feb 1
		{"quarterly", day(31), day(59), false},
		{"quarterly", day(59), day(91), true}, // march -> april
	}

	for _, tc := range tests {
		fn, err := scheduleFor(tc.frequency)
		require.NoError(t, err)
		assert.Equal(t, tc.want, fn(tc.prev, tc.cur),
			"%s: %s -> %s", tc.frequency, tc.prev.Format("2006-01-02"), tc.cur.Format("2006-01-02"))
	}

	_, err := scheduleFor("hourly")
	assert.ErrorIs(t, err, policy.ErrConfiguration)
}

func day(n int) time.Time {
	return simStart.AddDate(0, 0, n)
}
