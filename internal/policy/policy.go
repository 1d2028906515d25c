// Package policy implements the allocation policies consumed by the
// simulation engine. Each policy maps trailing per-asset return history to
// target portfolio weights on the long-only simplex.
package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for the policy taxonomy. Callers match with errors.Is.
var (
	// ErrConfiguration indicates invalid or missing policy parameters,
	// including an empty asset universe. Fatal, no retry.
	ErrConfiguration = errors.New("policy configuration error")

	// ErrOptimization indicates a singular covariance matrix or a solver
	// that failed to converge. Recoverable via a fallback policy.
	ErrOptimization = errors.New("optimization error")
)

// ReturnSet is an aligned bundle of per-asset return series. Series[i]
// holds the trailing simple returns for Symbols[i], oldest first.
type ReturnSet struct {
	Symbols []string
	Series  [][]float64
}

// Observations returns the number of return observations per asset.
func (rs ReturnSet) Observations() int {
	if len(rs.Series) == 0 {
		return 0
	}
	n := len(rs.Series[0])
	for _, s := range rs.Series[1:] {
		if len(s) < n {
			n = len(s)
		}
	}
	return n
}

// AllocationPolicy maps current asset statistics to target weights.
// Implementations are pure with respect to their inputs: no hidden state
// mutation, so identical inputs replay to identical weights.
type AllocationPolicy interface {
	// Name identifies the policy in reports and error context.
	Name() string

	// Optimize returns target weights keyed by symbol. Weights sum to 1.0
	// within floating tolerance and are non-negative for long-only
	// variants. The current weights are advisory (warm start).
	Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error)
}

// Config carries the policy-specific parameters recognized across the
// five variants. Immutable once a policy is constructed.
type Config struct {
	RiskAversion  float64            `yaml:"risk_aversion"`  // Mean-variance lambda (default 2.0)
	RiskFreeRate  float64            `yaml:"risk_free_rate"` // Annualized, used by max-Sharpe
	Tolerance     float64            `yaml:"tolerance"`      // Convergence tolerance (default 1e-8)
	MaxIterations int                `yaml:"max_iterations"` // Iteration cap (default 2000)
	Seed          uint64             `yaml:"seed"`           // Solver seed, fixed for deterministic replay
	AllowShort    bool               `yaml:"allow_short"`    // Permit negative weights (default false)
	RiskBudgets   map[string]float64 `yaml:"risk_budgets"`   // Risk-parity target contributions, default equal
}

// DefaultConfig returns the default policy configuration.
func DefaultConfig() Config {
	return Config{
		RiskAversion:  2.0,
		RiskFreeRate:  0.0,
		Tolerance:     1e-8,
		MaxIterations: 2000,
		Seed:          1,
		AllowShort:    false,
	}
}

// New constructs a policy by name. Recognized names: equal_weight,
// mean_variance, risk_parity, max_sharpe, min_variance.
func New(name string, cfg Config) (AllocationPolicy, error) {
	switch name {
	case "equal_weight", "equalweight", "ew":
		return NewEqualWeight(), nil
	case "mean_variance", "meanvariance", "mv":
		return NewMeanVariance(cfg), nil
	case "risk_parity", "riskparity", "rp":
		return NewRiskParity(cfg), nil
	case "max_sharpe", "maxsharpe", "sharpe":
		return NewMaxSharpe(cfg), nil
	case "min_variance", "minvariance", "minvar":
		return NewMinVariance(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrConfiguration, name)
	}
}

// Names lists the canonical policy names in comparison order.
func Names() []string {
	return []string{"equal_weight", "mean_variance", "risk_parity", "max_sharpe", "min_variance"}
}

// weightsFromVector maps an ordered weight vector back onto symbols.
func weightsFromVector(symbols []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(symbols))
	for i, sym := range symbols {
		out[sym] = w[i]
	}
	return out
}

// vectorFromWeights extracts a warm-start vector aligned with symbols,
// falling back to equal weights when current holdings are empty.
func vectorFromWeights(symbols []string, current map[string]float64) []float64 {
	w := make([]float64, len(symbols))
	total := 0.0
	for i, sym := range symbols {
		w[i] = current[sym]
		total += w[i]
	}
	if total <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(len(w))
		}
		return w
	}
	for i := range w {
		w[i] /= total
	}
	return w
}
