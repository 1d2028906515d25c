package policy

import (
	"fmt"
)

// MeanVariance maximizes expected return minus risk-aversion-scaled
// variance over the weight simplex. Fails with ErrOptimization when the
// covariance estimate is singular or the solver hits its evaluation cap
// without converging; callers fall back to equal weight or abort.
type MeanVariance struct {
	cfg Config
}

// NewMeanVariance creates a mean-variance policy with the given
// risk-aversion coefficient and solver settings.
func NewMeanVariance(cfg Config) *MeanVariance {
	return &MeanVariance{cfg: cfg}
}

func (p *MeanVariance) Name() string { return "mean_variance" }

// Optimize solves max_w mu'w - lambda * w'Σw subject to the simplex
// constraints.
func (p *MeanVariance) Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error) {
	if err := validateUniverse(returns, true); err != nil {
		return nil, err
	}
	if p.cfg.RiskAversion <= 0 {
		return nil, fmt.Errorf("%w: risk aversion must be positive, got %.4f", ErrConfiguration, p.cfg.RiskAversion)
	}

	mu := MeanReturns(returns)
	cov := Covariance(returns)
	if err := checkPositiveDefinite(cov); err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.Name(), err)
	}

	objective := func(w []float64) float64 {
		return dot(mu, w) - p.cfg.RiskAversion*portfolioVariance(w, cov)
	}

	result, err := maximizeOnSimplex(solverConfigFrom(p.cfg), vectorFromWeights(returns.Symbols, current), objective)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", p.Name(), err)
	}
	if !result.Converged {
		return nil, fmt.Errorf("policy %s: %w: no convergence after %d evaluations", p.Name(), ErrOptimization, result.Evaluations)
	}

	return weightsFromVector(returns.Symbols, result.Weights), nil
}
