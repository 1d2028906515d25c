package policy

import (
	"fmt"
	"math"
)

// SolverConfig tunes the simplex coordinate-descent solver shared by the
// optimizing policies.
type SolverConfig struct {
	MaxEvaluations    int     // Function-evaluation cap
	Tolerance         float64 // Convergence tolerance on the objective
	InitialStepSize   float64 // Starting coordinate step (default 0.05)
	BacktrackingRatio float64 // Step reduction when no coordinate improves
	MinStepSize       float64 // Step size floor before declaring convergence
	Seed              uint64  // Deterministic direction shuffling
	AllowShort        bool    // Permit negative weights during search
}

func solverConfigFrom(cfg Config) SolverConfig {
	return SolverConfig{
		MaxEvaluations:    cfg.MaxIterations,
		Tolerance:         cfg.Tolerance,
		InitialStepSize:   0.05,
		BacktrackingRatio: 0.5,
		MinStepSize:       1e-7,
		Seed:              cfg.Seed,
		AllowShort:        cfg.AllowShort,
	}
}

type solverResult struct {
	Weights     []float64
	Objective   float64
	Evaluations int
	Converged   bool
}

// randGen is a small deterministic generator so solver runs replay
// byte-identically across processes.
type randGen struct {
	state uint64
}

func newRandGen(seed uint64) *randGen {
	return &randGen{state: seed}
}

// Float64 returns a pseudo-random float64 in [0.0, 1.0)
func (r *randGen) Float64() float64 {
	r.state = r.state*1103515245 + 12345
	return float64(r.state&0x7FFFFFFF) / float64(0x80000000)
}

// maximizeOnSimplex runs constrained coordinate descent: perturb one
// coordinate at a time, re-project onto the weight simplex, keep the step
// when the objective improves, and shrink the step size when a full cycle
// yields nothing.
func maximizeOnSimplex(cfg SolverConfig, initial []float64, objective func([]float64) float64) (solverResult, error) {
	dim := len(initial)
	if dim == 0 {
		return solverResult{}, fmt.Errorf("%w: zero-dimensional weight vector", ErrConfiguration)
	}

	current, err := projectSimplex(initial, cfg.AllowShort)
	if err != nil {
		return solverResult{}, err
	}

	best := make([]float64, dim)
	copy(best, current)
	bestObj := objective(best)
	evaluations := 1
	stepSize := cfg.InitialStepSize
	lastBest := bestObj
	rng := newRandGen(cfg.Seed)

	for evaluations < cfg.MaxEvaluations {
		improved := false

		for coord := 0; coord < dim && evaluations < cfg.MaxEvaluations; coord++ {
			directions := []float64{1.0, -1.0}
			if rng.Float64() < 0.5 {
				directions[0], directions[1] = directions[1], directions[0]
			}

			for _, direction := range directions {
				if evaluations >= cfg.MaxEvaluations {
					break
				}

				trial := make([]float64, dim)
				copy(trial, current)
				trial[coord] += direction * stepSize

				projected, err := projectSimplex(trial, cfg.AllowShort)
				if err != nil {
					continue // degenerate step, skip
				}

				obj := objective(projected)
				evaluations++

				if obj > bestObj {
					copy(best, projected)
					copy(current, projected)
					bestObj = obj
					improved = true
					break
				}
			}
		}

		if improved {
			stepSize = cfg.InitialStepSize
			if math.Abs(bestObj-lastBest) < cfg.Tolerance {
				return solverResult{Weights: best, Objective: bestObj, Evaluations: evaluations, Converged: true}, nil
			}
			lastBest = bestObj
			continue
		}

		stepSize *= cfg.BacktrackingRatio
		if stepSize < cfg.MinStepSize {
			return solverResult{Weights: best, Objective: bestObj, Evaluations: evaluations, Converged: true}, nil
		}
	}

	// Evaluation cap hit while the step size was still live.
	return solverResult{Weights: best, Objective: bestObj, Evaluations: evaluations, Converged: false}, nil
}

// projectSimplex maps a weight vector onto the feasible set: non-negative
// (long-only) and summing to 1. With shorting allowed only the sum
// constraint is enforced.
func projectSimplex(w []float64, allowShort bool) ([]float64, error) {
	out := make([]float64, len(w))
	copy(out, w)

	if !allowShort {
		for i := range out {
			if out[i] < 0 {
				out[i] = 0
			}
		}
	}

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum) < 1e-12 {
		return nil, fmt.Errorf("%w: weight vector collapsed to zero", ErrOptimization)
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}
