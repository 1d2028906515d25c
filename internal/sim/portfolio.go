// Package sim runs portfolio simulations: it walks a pre-loaded price
// frame step by step, rebalances toward policy target weights on a
// configured schedule, and records an immutable valuation history for
// performance evaluation.
package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/portrun/internal/perf"
	"github.com/sawpanic/portrun/internal/policy"
)

// Sentinel errors for the simulation taxonomy. Callers match with
// errors.Is.
var (
	// ErrInvalidDateRange indicates a simulation window that is empty,
	// inverted, or covers no data.
	ErrInvalidDateRange = errors.New("invalid date range")

	// ErrInvalidState indicates an operation attempted in the wrong
	// portfolio lifecycle state, such as simulating a completed run.
	ErrInvalidState = errors.New("invalid portfolio state")
)

// State is the portfolio lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Side labels the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order records one executed trade. Orders are emitted by rebalances
// only, never constructed by callers.
type Order struct {
	Timestamp time.Time `json:"ts"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Cost      float64   `json:"cost"` // transaction cost charged
}

// Position is one open holding, owned and mutated only by the
// portfolio's rebalance execution.
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	AvgCost   float64 `json:"avg_cost"`
	LastPrice float64 `json:"last_price"`
	Stale     bool    `json:"stale"` // last step had no quote
}

// Value returns the position's mark-to-market value at its last known
// price.
func (p *Position) Value() float64 {
	return p.Quantity * p.LastPrice
}

// Recorder receives simulation telemetry. The prometheus-backed
// implementation lives in internal/metrics; tests use the no-op.
type Recorder interface {
	ObserveStep(d time.Duration)
	ObserveOptimize(policyName string, d time.Duration)
	CountTrade(side string)
	CountRebalance(fallback bool)
	CountStaleQuote(symbol string)
	SetEquity(policyName string, value float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStep(time.Duration)             {}
func (nopRecorder) ObserveOptimize(string, time.Duration) {}
func (nopRecorder) CountTrade(string)                     {}
func (nopRecorder) CountRebalance(bool)                   {}
func (nopRecorder) CountStaleQuote(string)                {}
func (nopRecorder) SetEquity(string, float64)             {}

// Config carries the engine parameters for one portfolio run.
type Config struct {
	InitialCash  float64 `yaml:"initial_cash"`
	CostRate     float64 `yaml:"cost_rate"`      // proportional transaction cost per trade
	CostInTarget bool    `yaml:"cost_in_target"` // size buys so fees never overdraw cash
	Frequency    string  `yaml:"frequency"`      // daily | weekly | monthly | quarterly
	ReturnWindow int     `yaml:"return_window"`  // trailing steps fed to the policy

	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	PeriodsPerYear float64 `yaml:"periods_per_year"` // 0 infers from snapshot spacing

	// Fallback is invoked when the primary policy fails with an
	// optimization error at a rebalance point. Nil aborts the run instead.
	Fallback policy.AllocationPolicy `yaml:"-"`

	// Recorder receives telemetry; nil installs a no-op.
	Recorder Recorder `yaml:"-"`

	// Progress, when set, is called once per completed step.
	Progress func(done, total int) `yaml:"-"`
}

// DefaultConfig returns the default engine configuration: 100k starting
// cash, no transaction costs, monthly rebalancing with a 60-step return
// window, and an equal-weight fallback policy.
func DefaultConfig() Config {
	return Config{
		InitialCash:  100_000,
		CostRate:     0,
		CostInTarget: true,
		Frequency:    "monthly",
		ReturnWindow: 60,
		Fallback:     policy.NewEqualWeight(),
	}
}

// Portfolio is the simulation state machine. It is not safe for
// concurrent use; run independent instances per goroutine.
type Portfolio struct {
	id       string
	cfg      Config
	policy   policy.AllocationPolicy
	recorder Recorder

	cash      float64
	positions map[string]*Position
	history   []perf.Snapshot
	orders    []Order
	state     State

	rebalances int
	fallbacks  int
	steps      int
}

// NewPortfolio creates an uninitialized portfolio driven by pol.
func NewPortfolio(pol policy.AllocationPolicy, cfg Config) (*Portfolio, error) {
	if pol == nil {
		return nil, fmt.Errorf("%w: nil allocation policy", policy.ErrConfiguration)
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %.2f", policy.ErrConfiguration, cfg.InitialCash)
	}
	if cfg.CostRate < 0 {
		return nil, fmt.Errorf("%w: negative cost rate %.6f", policy.ErrConfiguration, cfg.CostRate)
	}
	if cfg.ReturnWindow <= 0 {
		cfg.ReturnWindow = DefaultConfig().ReturnWindow
	}
	if cfg.Frequency == "" {
		cfg.Frequency = DefaultConfig().Frequency
	}
	if _, err := scheduleFor(cfg.Frequency); err != nil {
		return nil, err
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Portfolio{
		id:        uuid.NewString(),
		cfg:       cfg,
		policy:    pol,
		recorder:  recorder,
		cash:      cfg.InitialCash,
		positions: make(map[string]*Position),
		state:     StateUninitialized,
	}, nil
}

// ID returns the unique run identifier.
func (p *Portfolio) ID() string { return p.id }

// State returns the current lifecycle state.
func (p *Portfolio) State() State { return p.state }

// PolicyName returns the name of the driving policy.
func (p *Portfolio) PolicyName() string { return p.policy.Name() }

// Cash returns the uninvested balance.
func (p *Portfolio) Cash() float64 { return p.cash }

// Rebalances returns how many rebalance points have executed, and how
// many of those fell back to the secondary policy.
func (p *Portfolio) Rebalances() (total, fallbacks int) {
	return p.rebalances, p.fallbacks
}

// History returns a copy of the recorded snapshot sequence.
func (p *Portfolio) History() []perf.Snapshot {
	out := make([]perf.Snapshot, len(p.history))
	copy(out, p.history)
	return out
}

// Orders returns a copy of the trade log.
func (p *Portfolio) Orders() []Order {
	out := make([]Order, len(p.orders))
	copy(out, p.orders)
	return out
}

// Positions returns a copy of the open positions keyed by symbol.
func (p *Portfolio) Positions() map[string]Position {
	out := make(map[string]Position, len(p.positions))
	for sym, pos := range p.positions {
		out[sym] = *pos
	}
	return out
}

// TotalValue returns cash plus the mark-to-market value of all
// positions.
func (p *Portfolio) TotalValue() float64 {
	return p.cash + p.positionsValue()
}

func (p *Portfolio) positionsValue() float64 {
	total := 0.0
	for _, pos := range p.positions {
		total += pos.Value()
	}
	return total
}

// CurrentWeights returns the realized weight of each held asset.
func (p *Portfolio) CurrentWeights() map[string]float64 {
	total := p.TotalValue()
	weights := make(map[string]float64, len(p.positions))
	if total <= 0 {
		return weights
	}
	for sym, pos := range p.positions {
		weights[sym] = pos.Value() / total
	}
	return weights
}

// Results evaluates the recorded history and transitions the portfolio
// to COMPLETED. Further Simulate calls return ErrInvalidState.
func (p *Portfolio) Results() (perf.Report, error) {
	if p.state != StateRunning {
		return perf.Report{}, fmt.Errorf("%w: results require a running portfolio, state is %s", ErrInvalidState, p.state)
	}

	report, err := perf.EvaluatePortfolio(p.history, p.cfg.RiskFreeRate, p.cfg.PeriodsPerYear)
	if err != nil {
		return perf.Report{}, fmt.Errorf("evaluate run %s: %w", p.id, err)
	}

	p.state = StateCompleted
	return report, nil
}

// buyStock acquires up to targetValue worth of symbol at price,
// charging the proportional cost rate against cash. Quantities are
// whole shares. With cost_in_target the fee is budgeted inside the
// target so cash cannot go negative; otherwise a shortfall scales the
// order down and logs a partial fill.
func (p *Portfolio) buyStock(symbol string, targetValue, price float64, ts time.Time) {
	if price <= 0 || targetValue <= 0 {
		return
	}

	unitCost := price * (1.0 + p.cfg.CostRate)

	var qty float64
	if p.cfg.CostInTarget {
		qty = math.Floor(targetValue / unitCost)
	} else {
		qty = math.Floor(targetValue / price)
	}

	if qty*unitCost > p.cash {
		affordable := math.Floor(p.cash / unitCost)
		log.Warn().
			Str("symbol", symbol).
			Time("ts", ts).
			Float64("requested_qty", qty).
			Float64("filled_qty", affordable).
			Float64("cash", p.cash).
			Msg("insufficient cash, partial fill")
		qty = affordable
	}
	if qty <= 0 {
		return
	}

	gross := qty * price
	fee := gross * p.cfg.CostRate
	p.cash -= gross + fee

	pos, exists := p.positions[symbol]
	if !exists {
		pos = &Position{Symbol: symbol, LastPrice: price}
		p.positions[symbol] = pos
	}
	pos.AvgCost = (pos.Quantity*pos.AvgCost + gross) / (pos.Quantity + qty)
	pos.Quantity += qty
	pos.LastPrice = price
	pos.Stale = false

	p.orders = append(p.orders, Order{Timestamp: ts, Symbol: symbol, Side: SideBuy, Quantity: qty, Price: price, Cost: fee})
	p.recorder.CountTrade(string(SideBuy))
}

// sellStock disposes of up to qty shares of symbol at price, clamped to
// the held quantity. The position is removed when it reaches zero.
func (p *Portfolio) sellStock(symbol string, qty, price float64, ts time.Time) {
	pos, exists := p.positions[symbol]
	if !exists || qty <= 0 || price <= 0 {
		return
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	gross := qty * price
	fee := gross * p.cfg.CostRate
	p.cash += gross - fee

	pos.Quantity -= qty
	pos.LastPrice = price
	pos.Stale = false
	if pos.Quantity <= 1e-9 {
		delete(p.positions, symbol)
	}

	p.orders = append(p.orders, Order{Timestamp: ts, Symbol: symbol, Side: SideSell, Quantity: qty, Price: price, Cost: fee})
	p.recorder.CountTrade(string(SideSell))
}

// recordSnapshot appends the current valuation split to the history.
func (p *Portfolio) recordSnapshot(ts time.Time) {
	pv := p.positionsValue()
	total := p.cash + pv

	weights := make(map[string]float64, len(p.positions))
	if total > 0 {
		for sym, pos := range p.positions {
			weights[sym] = pos.Value() / total
		}
	}

	p.history = append(p.history, perf.Snapshot{
		Timestamp:      ts,
		Cash:           p.cash,
		PositionsValue: pv,
		TotalValue:     total,
		Weights:        weights,
	})
	p.recorder.SetEquity(p.policy.Name(), total)
}
