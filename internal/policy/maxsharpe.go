package policy

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// MaxSharpe maximizes (expected return - risk-free rate) / volatility
// over the feasible weight simplex. Degenerate when no asset carries a
// positive excess return: the policy then falls back to minimum-variance
// weights rather than chasing the least-negative Sharpe.
type MaxSharpe struct {
	cfg Config
}

// NewMaxSharpe creates a max-Sharpe policy. The risk-free rate is taken
// per return period, consistent with the supplied return series.
func NewMaxSharpe(cfg Config) *MaxSharpe {
	return &MaxSharpe{cfg: cfg}
}

func (p *MaxSharpe) Name() string { return "max_sharpe" }

// Optimize solves max_w (mu'w - rf) / sqrt(w'Σw) on the simplex.
func (p *MaxSharpe) Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error) {
	if err := validateUniverse(returns, true); err != nil {
		return nil, err
	}

	mu := MeanReturns(returns)
	cov := Covariance(returns)
	rf := p.cfg.RiskFreeRate

	anyPositiveExcess := false
	for _, m := range mu {
		if m > rf {
			anyPositiveExcess = true
			break
		}
	}
	if !anyPositiveExcess {
		log.Warn().
			Str("policy", p.Name()).
			Float64("risk_free_rate", rf).
			Msg("no asset with positive excess return, falling back to min-variance weights")
		return NewMinVariance(p.cfg).Optimize(returns, current)
	}

	objective := func(w []float64) float64 {
		variance := portfolioVariance(w, cov)
		if variance < 1e-16 {
			return math.Inf(-1)
		}
		return (dot(mu, w) - rf) / math.Sqrt(variance)
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
