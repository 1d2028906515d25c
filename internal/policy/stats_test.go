package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCovariance_DiagonalFromOrthogonalSeries(t *testing.T) {
	rs := orthogonalReturns(0.02, 0.01, 16)
	cov := Covariance(rs)

	// Sample variance of an alternating +/-a series with zero mean is
	// a^2 * n / (n-1).
	n := 16.0
	assert.InDelta(t, 0.02*0.02*n/(n-1), cov[0][0], 1e-12)
	assert.InDelta(t, 0.01*0.01*n/(n-1), cov[1][1], 1e-12)
	assert.InDelta(t, 0.0, cov[0][1], 1e-12, "orthogonal series should have zero covariance")
	assert.Equal(t, cov[0][1], cov[1][0], "covariance matrix should be symmetric")
}

func TestMeanReturns(t *testing.T) {
	rs := ReturnSet{
		Symbols: []string{"AAA", "BBB"},
		Series:  [][]float64{{0.01, 0.03}, {-0.02, 0.02}},
	}

	means := MeanReturns(rs)
	assert.InDelta(t, 0.02, means[0], 1e-12)
	assert.InDelta(t, 0.0, means[1], 1e-12)
}

func TestCheckPositiveDefinite(t *testing.T) {
	tests := []struct {
		name    string
		matrix  [][]float64
		wantErr bool
	}{
		{
			name:    "identity",
			matrix:  [][]float64{{1, 0}, {0, 1}},
			wantErr: false,
		},
		{
			name:    "correlated but PD",
			matrix:  [][]float64{{1.0, 0.5}, {0.5, 1.0}},
			wantErr: false,
		},
		{
			name:    "perfectly correlated",
			matrix:  [][]float64{{0.04, 0.02}, {0.02, 0.01}},
			wantErr: true,
		},
		{
			name:    "zero matrix",
			matrix:  [][]float64{{0, 0}, {0, 0}},
			wantErr: true,
		},
		{
			name:    "empty",
			matrix:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPositiveDefinite(tt.matrix)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrOptimization)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProjectSimplex(t *testing.T) {
	w, err := projectSimplex([]float64{0.5, -0.2, 0.7}, false)
	require.NoError(t, err)

	sum := 0.0
	for _, v := range w {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Equal(t, 0.0, w[1], "negative coordinate should clamp to zero in long-only mode")

	_, err = projectSimplex([]float64{0, 0}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOptimization)
}

func TestMaximizeOnSimplex_QuadraticOptimum(t *testing.T) {
	// max -(w0-0.2)^2 - (w1-0.8)^2 has its simplex optimum at (0.2, 0.8).
	objective := func(w []float64) float64 {
		return -(w[0]-0.2)*(w[0]-0.2) - (w[1]-0.8)*(w[1]-0.8)
	}

	cfg := solverConfigFrom(DefaultConfig())
	result, err := maximizeOnSimplex(cfg, []float64{0.5, 0.5}, objective)
	require.NoError(t, err)
	require.True(t, result.Converged)

	assert.InDelta(t, 0.2, result.Weights[0], 0.01)
	assert.InDelta(t, 0.8, result.Weights[1], 0.01)
	assert.LessOrEqual(t, result.Evaluations, cfg.MaxEvaluations)
}
