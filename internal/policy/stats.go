package policy

import (
	"fmt"
	"math"
)

// MeanReturns computes the arithmetic mean return per asset.
func MeanReturns(rs ReturnSet) []float64 {
	means := make([]float64, len(rs.Series))
	for i, series := range rs.Series {
		if len(series) == 0 {
			continue
		}
		sum := 0.0
		for _, r := range series {
			sum += r
		}
		means[i] = sum / float64(len(series))
	}
	return means
}

// Covariance computes the sample covariance matrix of the return set.
// Series are truncated to the shortest common length.
func Covariance(rs ReturnSet) [][]float64 {
	n := len(rs.Series)
	obs := rs.Observations()
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	if obs < 2 {
		return cov
	}

	means := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for t := 0; t < obs; t++ {
			sum += rs.Series[i][t]
		}
		means[i] = sum / float64(obs)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for t := 0; t < obs; t++ {
				sum += (rs.Series[i][t] - means[i]) * (rs.Series[j][t] - means[j])
			}
			cov[i][j] = sum / float64(obs-1)
			cov[j][i] = cov[i][j]
		}
	}
	return cov
}

// checkPositiveDefinite attempts a Cholesky factorization and reports
// whether the matrix is numerically positive definite. A non-PD
// covariance (e.g. two perfectly correlated assets) makes mean-variance
// optimization ill-posed.
func checkPositiveDefinite(m [][]float64) error {
	const pivotEps = 1e-12

	n := len(m)
	if n == 0 {
		return fmt.Errorf("%w: empty covariance matrix", ErrOptimization)
	}

	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := m[i][j]
			for k := 0; k < j; k++ {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				if sum < pivotEps {
					return fmt.Errorf("%w: covariance matrix is singular (pivot %d = %.3e)", ErrOptimization, i, sum)
				}
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	return nil
}

// portfolioVariance computes w'Σw.
func portfolioVariance(w []float64, cov [][]float64) float64 {
	v := 0.0
	for i := range w {
		for j := range w {
			v += w[i] * cov[i][j] * w[j]
		}
	}
	return v
}

// marginalRisk computes (Σw)_i for each asset.
func marginalRisk(w []float64, cov [][]float64) []float64 {
	m := make([]float64, len(w))
	for i := range w {
		for j := range w {
			m[i] += cov[i][j] * w[j]
		}
	}
	return m
}

// dot computes the inner product of two equal-length vectors.
func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// validateUniverse rejects empty or inconsistent return sets. Policies
// that need a covariance estimate additionally require at least two
// observations per asset.
func validateUniverse(rs ReturnSet, needHistory bool) error {
	if len(rs.Symbols) == 0 {
		return fmt.Errorf("%w: empty asset universe", ErrConfiguration)
	}
	if len(rs.Series) != len(rs.Symbols) {
		return fmt.Errorf("%w: %d symbols but %d return series", ErrConfiguration, len(rs.Symbols), len(rs.Series))
	}
	if needHistory && rs.Observations() < 2 {
		return fmt.Errorf("%w: insufficient return history (%d observations)", ErrOptimization, rs.Observations())
	}
	return nil
}
