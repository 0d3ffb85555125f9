// Package diagnostics computes the convergence and mixing statistics of a
// completed (or cancelled-but-partial) run's traces: per-parameter
// effective sample size and autocorrelation, per-rung-pair swap
// acceptance, and the Gelman-Rubin potential-scale-reduction statistic
// across independent chains.
package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Autocorrelation returns rho_k for k = 0..maxLag (inclusive, so the
// returned slice has length maxLag+1) for the given sample path. rho_0 is
// always 1 by definition.
func Autocorrelation(x []float64, maxLag int) []float64 {
	n := len(x)
	if maxLag >= n {
		maxLag = n - 1
	}
	if maxLag < 0 {
		return nil
	}
	mean := stat.Mean(x, nil)

	gamma0 := 0.0
	for _, v := range x {
		d := v - mean
		gamma0 += d * d
	}
	gamma0 /= float64(n)

	rho := make([]float64, maxLag+1)
	rho[0] = 1
	if gamma0 == 0 {
		return rho // degenerate (constant) chain: every lag past 0 is reported as 0.
	}
	for k := 1; k <= maxLag; k++ {
		var gammaK float64
		for t := 0; t < n-k; t++ {
			gammaK += (x[t] - mean) * (x[t+k] - mean)
		}
		gammaK /= float64(n)
		rho[k] = gammaK / gamma0
	}
	return rho
}

// AutocorrelationTime returns Geyer's initial positive sequence estimate
// of the integrated autocorrelation time, tau = 1 + 2*sum_{k=1}^{K*}
// rho_k, where K* = 2m and m is the largest value such that every
// consecutive pair sum Gamma_j = rho_{2j-1} + rho_{2j}, j = 1..m, is positive and
// (non-strictly) decreasing. Truncating at the first violated pair
// removes the noisy tail of the autocorrelation estimate.
func AutocorrelationTime(x []float64) float64 {
	maxLag := len(x) - 1
	if maxLag < 2 {
		return 1
	}
	// Cap maxLag to keep this a local, bounded computation on long chains;
	// the initial-positive-sequence cutoff almost always triggers long
	// before this bound matters.
	if maxLag > 2000 {
		maxLag = 2000
	}
	rho := Autocorrelation(x, maxLag)

	tau := 1.0
	prevPairSum := math.Inf(1)
	for j := 1; 2*j < len(rho); j++ {
		pairSum := rho[2*j-1] + rho[2*j]
		if pairSum <= 0 || pairSum > prevPairSum {
			break
		}
		tau += 2 * pairSum
		prevPairSum = pairSum
	}
	if tau < 1 {
		tau = 1
	}
	return tau
}

// ESS returns the effective sample size of x: len(x) divided by the
// integrated autocorrelation time.
func ESS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return float64(len(x)) / AutocorrelationTime(x)
}

// SwapPairStats accumulates accept/attempt counts for one adjacent-rung
// pair, separately for the burn-in and sampling phases.
type SwapPairStats struct {
	BurninAccepted, BurninAttempted     int
	SamplingAccepted, SamplingAttempted int
}

// Record logs one swap attempt between this pair during the given phase.
func (s *SwapPairStats) Record(phase string, accepted bool) {
	switch phase {
	case "burnin":
		s.BurninAttempted++
		if accepted {
			s.BurninAccepted++
		}
	case "sampling":
		s.SamplingAttempted++
		if accepted {
			s.SamplingAccepted++
		}
	default:
		panic("diagnostics: unknown phase " + phase)
	}
}

// BurninRate returns the burn-in accept/attempt ratio, or 0 if no
// attempts were recorded.
func (s *SwapPairStats) BurninRate() float64 {
	if s.BurninAttempted == 0 {
		return 0
	}
	return float64(s.BurninAccepted) / float64(s.BurninAttempted)
}

// SamplingRate returns the sampling-phase accept/attempt ratio, or 0 if
// no attempts were recorded.
func (s *SwapPairStats) SamplingRate() float64 {
	if s.SamplingAttempted == 0 {
		return 0
	}
	return float64(s.SamplingAccepted) / float64(s.SamplingAttempted)
}

// Rhat computes the Gelman-Rubin potential scale reduction statistic for
// M independent chains of equal length N, each a sample path for one
// parameter. Rhat close to 1 indicates the chains agree; values well
// above 1 indicate they have not converged to the same distribution.
func Rhat(chains [][]float64) float64 {
	m := len(chains)
	if m < 2 {
		return math.NaN() // undefined with fewer than two chains to compare.
	}
	n := len(chains[0])
	for _, c := range chains {
		if len(c) != n {
			panic("diagnostics: Rhat requires equal-length chains")
		}
	}
	if n < 2 {
		return math.NaN()
	}

	chainMeans := make([]float64, m)
	chainVars := make([]float64, m)
	for i, c := range chains {
		chainMeans[i] = stat.Mean(c, nil)
		chainVars[i] = stat.Variance(c, nil)
	}
	grandMean := stat.Mean(chainMeans, nil)

	var between float64
	for _, cm := range chainMeans {
		d := cm - grandMean
		between += d * d
	}
	between *= float64(n) / float64(m-1)

	within := stat.Mean(chainVars, nil)
	if within == 0 {
		return 1
	}

	varPlus := (float64(n-1)/float64(n))*within + between/float64(n)
	return math.Sqrt(varPlus / within)
}
