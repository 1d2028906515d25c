package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/portrun/internal/data"
	"github.com/sawpanic/portrun/internal/policy"
)

// scheduleFunc reports whether crossing from prev to cur starts a new
// rebalance period.
type scheduleFunc func(prev, cur time.Time) bool

func scheduleFor(frequency string) (scheduleFunc, error) {
	switch frequency {
	case "daily":
		return func(prev, cur time.Time) bool {
			py, pd := prev.Year(), prev.YearDay()
			cy, cd := cur.Year(), cur.YearDay()
			return py != cy || pd != cd
		}, nil
	case "weekly":
		return func(prev, cur time.Time) bool {
			py, pw := prev.ISOWeek()
			cy, cw := cur.ISOWeek()
			return py != cy || pw != cw
		}, nil
	case "monthly":
		return func(prev, cur time.Time) bool {
			return prev.Year() != cur.Year() || prev.Month() != cur.Month()
		}, nil
	case "quarterly":
		return func(prev, cur time.Time) bool {
			return prev.Year() != cur.Year() || quarterOf(prev.Month()) != quarterOf(cur.Month())
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rebalance frequency %q", policy.ErrConfiguration, frequency)
	}
}

func quarterOf(m time.Month) int {
	return (int(m) - 1) / 3
}

// Simulate walks the frame from start (inclusive) to end (exclusive),
// rebalancing at schedule boundaries. The first step of a run is always
// a rebalance point. An empty frequency uses the configured one. May be
// called again on a RUNNING portfolio to extend the run; a COMPLETED
// portfolio returns ErrInvalidState.
func (p *Portfolio) Simulate(ctx context.Context, frame *data.Frame, start, end time.Time, frequency string) error {
	if p.state == StateCompleted {
		return fmt.Errorf("%w: cannot simulate a completed portfolio", ErrInvalidState)
	}
	if frame == nil {
		return fmt.Errorf("%w: nil data frame", policy.ErrConfiguration)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidDateRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if frequency == "" {
		frequency = p.cfg.Frequency
	}
	schedule, err := scheduleFor(frequency)
	if err != nil {
		return err
	}

	lo, hi := frame.WindowIndices(start, end)
	if hi <= lo {
		return fmt.Errorf("%w: no data between %s and %s", ErrInvalidDateRange,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	p.state = StateRunning

	log.Info().
		Str("run_id", p.id).
		Str("policy", p.policy.Name()).
		Str("frequency", frequency).
		Int("steps", hi-lo).
		Time("start", frame.Timestamp(lo)).
		Time("end", frame.Timestamp(hi-1)).
		Msg("simulation started")

	total := hi - lo
	for idx := lo; idx < hi; idx++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("simulation interrupted at step %d: %w", idx-lo, ctx.Err())
		default:
		}

		stepStart := time.Now()
		ts := frame.Timestamp(idx)

		p.markPositions(frame, idx, ts)

		rebalance := p.steps == 0
		if !rebalance && len(p.history) > 0 {
			rebalance = schedule(p.history[len(p.history)-1].Timestamp, ts)
		}
		if rebalance {
			if err := p.rebalance(frame, idx, ts); err != nil {
				return err
			}
		}

		p.recordSnapshot(ts)
		p.steps++
		p.recorder.ObserveStep(time.Since(stepStart))
		if p.cfg.Progress != nil {
			p.cfg.Progress(idx-lo+1, total)
		}
	}

	log.Info().
		Str("run_id", p.id).
		Float64("total_value", p.TotalValue()).
		Int("orders", len(p.orders)).
		Int("rebalances", p.rebalances).
		Msg("simulation finished")
	return nil
}

// markPositions refreshes position prices at step idx. A missing quote
// carries the last price forward and marks the position stale.
func (p *Portfolio) markPositions(frame *data.Frame, idx int, ts time.Time) {
	for sym, pos := range p.positions {
		price, ok := frame.Price(sym, idx)
		if !ok {
			if !pos.Stale {
				log.Warn().
					Str("symbol", sym).
					Time("ts", ts).
					Float64("carried_price", pos.LastPrice).
					Msg("missing quote, carrying last price forward")
			}
			pos.Stale = true
			p.recorder.CountStaleQuote(sym)
			continue
		}
		pos.LastPrice = price
		pos.Stale = false
	}
}

// rebalance asks the policy for target weights over the trailing return
// window and executes sells before buys toward those targets. An
// optimization failure is retried on the fallback policy when one is
// configured, otherwise it aborts the run.
func (p *Portfolio) rebalance(frame *data.Frame, idx int, ts time.Time) error {
	symbols, series := frame.ReturnsWindow(idx, p.cfg.ReturnWindow)
	returns := policy.ReturnSet{Symbols: symbols, Series: series}
	current := p.CurrentWeights()

	optStart := time.Now()
	targets, err := p.policy.Optimize(returns, current)
	p.recorder.ObserveOptimize(p.policy.Name(), time.Since(optStart))

	usedFallback := false
	if err != nil {
		if !errors.Is(err, policy.ErrOptimization) || p.cfg.Fallback == nil {
			return fmt.Errorf("rebalance at %s: %w", ts.Format(time.RFC3339), err)
		}
		log.Warn().
			Err(err).
			Str("policy", p.policy.Name()).
			Str("fallback", p.cfg.Fallback.Name()).
			Time("ts", ts).
			Msg("optimization failed, using fallback policy")
		targets, err = p.cfg.Fallback.Optimize(returns, current)
		if err != nil {
			return fmt.Errorf("fallback rebalance at %s: %w", ts.Format(time.RFC3339), err)
		}
		usedFallback = true
		p.fallbacks++
	}

	p.executeRebalance(frame, idx, ts, targets)
	p.rebalances++
	p.recorder.CountRebalance(usedFallback)
	return nil
}

// executeRebalance diffs target against current exposure and trades
// toward it: sells first to free cash, then buys. Targets are valued
// against the pre-trade portfolio total. Symbols without a usable price
// are skipped.
func (p *Portfolio) executeRebalance(frame *data.Frame, idx int, ts time.Time, targets map[string]float64) {
	total := p.TotalValue()
	if total <= 0 {
		return
	}

	symbols := make([]string, 0, len(targets)+len(p.positions))
	seen := make(map[string]bool, len(targets))
	for sym := range targets {
		symbols = append(symbols, sym)
		seen[sym] = true
	}
	for sym := range p.positions {
		if !seen[sym] {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	// Sell pass.
	for _, sym := range symbols {
		pos, held := p.positions[sym]
		if !held {
			continue
		}
		price, ok := frame.Price(sym, idx)
		if !ok {
			log.Warn().Str("symbol", sym).Time("ts", ts).Msg("no quote at rebalance, holding position")
			continue
		}

		targetValue := targets[sym] * total
		currentValue := pos.Quantity * price
		excess := currentValue - targetValue
		if excess <= 1e-9 {
			continue
		}

		qty := math.Floor(excess / price)
		if targets[sym] <= 0 {
			qty = pos.Quantity
		}
		p.sellStock(sym, qty, price, ts)
	}

	// Buy pass.
	for _, sym := range symbols {
		target := targets[sym]
		if target <= 0 {
			continue
		}
		price, ok := frame.Price(sym, idx)
		if !ok {
			log.Warn().Str("symbol", sym).Time("ts", ts).Msg("no quote at rebalance, skipping buy")
			continue
		}

		currentValue := 0.0
		if pos, held := p.positions[sym]; held {
			currentValue = pos.Quantity * price
		}
		deficit := target*total - currentValue
		if deficit <= 1e-9 {
			continue
		}
		p.buyStock(sym, deficit, price, ts)
	}
}
