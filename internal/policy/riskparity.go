package policy

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// RiskParity iterates toward weights where each asset's marginal
// contribution to total portfolio volatility matches its target risk
// budget (equal budgets by default). Uses a multiplicative fixed-point
// update; on non-convergence the last iterate is returned and flagged at
// warn level rather than discarded.
type RiskParity struct {
	cfg Config
}

// NewRiskParity creates a risk-parity policy. Config.RiskBudgets maps
// symbols to target risk contributions; missing entries share the
// remaining budget equally.
func NewRiskParity(cfg Config) *RiskParity {
	return &RiskParity{cfg: cfg}
}

func (p *RiskParity) Name() string { return "risk_parity" }

// Optimize runs the damped fixed-point iteration
// w_i <- sqrt(w_i * b_i / (Σw)_i) followed by renormalization until the
// iterate moves less than the configured tolerance or the iteration cap
// is hit. The geometric-mean damping avoids the period-2 oscillation of
// the undamped update.
func (p *RiskParity) Optimize(returns ReturnSet, current map[string]float64) (map[string]float64, error) {
	if err := validateUniverse(returns, true); err != nil {
		return nil, err
	}

	n := len(returns.Symbols)
	cov := Covariance(returns)
	budgets, err := p.targetBudgets(returns.Symbols)
	if err != nil {
		return nil, err
	}

	tol := p.cfg.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}
	maxIter := p.cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 2000
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}

	converged := false
	iterations := 0
	for ; iterations < maxIter; iterations++ {
		m := marginalRisk(w, cov)

		next := make([]float64, n)
		sum := 0.0
		for i := range next {
			denom := m[i]
			if denom < 1e-12 {
				denom = 1e-12
			}
			next[i] = math.Sqrt(w[i] * budgets[i] / denom)
			sum += next[i]
		}
		for i := range next {
			next[i] /= sum
		}

		maxDelta := 0.0
		for i := range next {
			if d := math.Abs(next[i] - w[i]); d > maxDelta {
				maxDelta = d
			}
		}
		w = next

		if maxDelta < tol {
			converged = true
			break
		}
	}

	if !converged {
		log.Warn().
			Str("policy", p.Name()).
			Int("iterations", iterations).
			Float64("tolerance", tol).
			Msg("risk-parity iteration did not converge, returning last iterate")
	}

	return weightsFromVector(returns.Symbols, w), nil
}

// targetBudgets resolves per-symbol risk budgets, normalized to sum to 1.
func (p *RiskParity) targetBudgets(symbols []string) ([]float64, error) {
	n := len(symbols)
	budgets := make([]float64, n)

	if len(p.cfg.RiskBudgets) == 0 {
		for i := range budgets {
			budgets[i] = 1.0 / float64(n)
		}
		return budgets, nil
	}

	sum := 0.0
	for i, sym := range symbols {
		b, ok := p.cfg.RiskBudgets[sym]
		if !ok {
			b = 1.0 / float64(n)
		}
		if b <= 0 {
			return nil, fmt.Errorf("%w: risk budget for %s must be positive, got %.4f", ErrConfiguration, sym, b)
		}
		budgets[i] = b
		sum += b
	}
	for i := range budgets {
		budgets[i] /= sum
	}
	return budgets, nil
}
