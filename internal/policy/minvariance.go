package policy

import (
	"fmt"
)

// MinVariance minimizes portfolio variance subject to fully-invested
// weights. Always feasible given a positive-definite covariance estimate,
// and still terminates deterministically on a degenerate one.
type MinVariance struct {
	cfg Config
}

// NewMinVariance creates a minimum-variance policy.
func NewMinVariance(cfg Config) *MinVariance {
	return &MinVariance{cfg: cfg}
}

func (p *MinVariance) Name() string { return "min_variance" }

// Optimize solves min_w w'Σw subject to the simplex constraints.
func (p *MinVariance) Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error) {
	if err := validateUniverse(returns, true); err != nil {
		return nil, err
	}

	cov := Covariance(returns)

	objective := func(w []float64) float64 {
		return -portfolioVariance(w, cov)
	}

	result, err := maximizeOnSimplex(solverConfigFrom(p.cfg), vectorFromWeights(returns.Symbols, current), objective)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.Name(), err)
	}

	return weightsFromVector(returns.Symbols, result.Weights), nil
}
