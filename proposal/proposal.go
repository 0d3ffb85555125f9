// Package proposal implements the adaptive Metropolis proposal mechanism:
// per-parameter log-scale, a running empirical mean and covariance
// updated by Welford's algorithm, a Cholesky factor refreshed
// periodically from that covariance, and three proposal strategies
// (univariate, block isotropic, block correlated) dispatched per burn-in
// phase.
package proposal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/laasousa/drjacoby/rng"
)

const (
	initScale        = -2.3025850929940455 // log(0.1)
	targetAcceptUni  = 0.44
	targetAcceptBloc = 0.234
	defaultGamma     = 0.8
	minCovoRecalc    = 20
)

// State carries one particle's proposal machinery: per-coordinate scale
// and Robbins-Monro step counters for the univariate method, a single
// shared scale and counter for the block methods, and the running
// (mean, covariance, Cholesky factor) used by the block-correlated
// method.
type State struct {
	dim int

	logScale    []float64 // per-parameter, univariate method
	acceptCount []float64
	attemptCount []float64
	stepCount   []float64

	sharedLogScale    float64 // block methods
	sharedAccept      float64
	sharedAttempt     float64
	sharedStepCount   float64

	welfordN  float64
	mean      []float64
	cov       *mat.SymDense
	chol      mat.Cholesky
	cholValid bool

	sinceRecalc int
}

// NewState allocates proposal state for a d-dimensional parameter vector.
// Every per-parameter scale is initialised so exp(sigma) = 0.1, a
// conservative starting step size that Robbins-Monro adaptation then
// tunes toward the target acceptance rate.
func NewState(dim int) *State {
	s := &State{
		dim:          dim,
		logScale:     make([]float64, dim),
		acceptCount:  make([]float64, dim),
		attemptCount: make([]float64, dim),
		stepCount:    make([]float64, dim),
		mean:         make([]float64, dim),
		cov:          mat.NewSymDense(dim, nil),
	}
	for i := range s.logScale {
		s.logScale[i] = initScale
	}
	s.sharedLogScale = initScale
	return s
}

// recalcPeriod is K = max(20, 5*dim), the number of accumulated steps
// between Cholesky refactorisations.
func (s *State) recalcPeriod() int {
	k := 5 * s.dim
	if k < minCovoRecalc {
		return minCovoRecalc
	}
	return k
}

// ResetScale reinitialises every log-scale (per-parameter and shared)
// to its starting value. Called at the start of a phase with
// model.Phase.BWReset set.
func (s *State) ResetScale() {
	for i := range s.logScale {
		s.logScale[i] = initScale
	}
	s.sharedLogScale = initScale
	for i := range s.stepCount {
		s.stepCount[i] = 0
	}
	s.sharedStepCount = 0
}

// ResetCovariance clears the running mean/covariance accumulator and
// invalidates the Cholesky factor. Called at the start of a phase with
// model.Phase.CovRecalc set.
func (s *State) ResetCovariance() {
	s.welfordN = 0
	for i := range s.mean {
		s.mean[i] = 0
	}
	s.cov = mat.NewSymDense(s.dim, nil)
	s.cholValid = false
	s.sinceRecalc = 0
}

// ProposeUnivariate draws phi'_i = phi_i + exp(sigma_i)*Z for a single
// coordinate i, leaving phi unchanged elsewhere. dst receives the full
// proposed vector (a copy of phi with coordinate i replaced).
func (s *State) ProposeUnivariate(i int, phi []float64, stream *rng.Stream, dst []float64) []float64 {
	dst = resize(dst, len(phi))
	copy(dst, phi)
	z := stream.Normal()
	dst[i] = phi[i] + math.Exp(s.logScale[i])*z
	return dst
}

// ProposeBlockIsotropic draws phi' = phi + exp(sigmaBar)*Z, Z ~ N(0, I).
func (s *State) ProposeBlockIsotropic(phi []float64, stream *rng.Stream, dst []float64) []float64 {
	dst = resize(dst, len(phi))
	z := make([]float64, len(phi))
	stream.NormalVector(z)
	scale := math.Exp(s.sharedLogScale)
	copy(dst, phi)
	floats.AddScaled(dst, scale, z)
	return dst
}

// ProposeBlockCorrelated draws phi' = phi + exp(sigmaBar)*C*Z using the
// running Cholesky factor C. If the running covariance is not yet
// factorisable (too few accumulated samples, or a singular matrix),
// ProposeBlockCorrelated falls back to the isotropic draw for this call
// and reports fellBack=true.
func (s *State) ProposeBlockCorrelated(phi []float64, stream *rng.Stream, dst []float64) (result []float64, fellBack bool) {
	if !s.cholValid {
		return s.ProposeBlockIsotropic(phi, stream, dst), true
	}
	dst = resize(dst, len(phi))
	mu := make([]float64, len(phi)) // N(0, chol) centered at 0, then shifted
	draw := distmv.NormalRand(nil, mu, &s.chol, stream)
	scale := math.Exp(s.sharedLogScale)
	copy(dst, phi)
	floats.AddScaled(dst, scale, draw)
	return dst, false
}

// UpdateCovariance folds one post-step phi (the accepted phi' if the
// step was accepted, else the unchanged phi) into the running (mean,
// covariance) via Welford's online algorithm, and recomputes the
// Cholesky factor every recalcPeriod() accumulated steps. Call only
// during a phase with model.Phase.CovRecalc set.
func (s *State) UpdateCovariance(phiPost []float64) {
	s.welfordN++
	n := s.welfordN
	delta := make([]float64, s.dim)
	floats.SubTo(delta, phiPost, s.mean)
	floats.AddScaled(s.mean, 1/n, delta)
	delta2 := make([]float64, s.dim)
	floats.SubTo(delta2, phiPost, s.mean)
	for i := 0; i < s.dim; i++ {
		for j := i; j < s.dim; j++ {
			updated := s.cov.At(i, j) + delta[i]*delta2[j]
			s.cov.SetSym(i, j, updated)
		}
	}

	s.sinceRecalc++
	if s.sinceRecalc >= s.recalcPeriod() && n > 1 {
		s.sinceRecalc = 0
		s.refactorCholesky()
	}
}

func (s *State) refactorCholesky() {
	n := s.welfordN
	scaled := mat.NewSymDense(s.dim, nil)
	trace := 0.0
	for i := 0; i < s.dim; i++ {
		trace += s.cov.At(i, i) / (n - 1)
	}
	jitter := 1e-8 * trace / float64(s.dim)
	for i := 0; i < s.dim; i++ {
		for j := i; j < s.dim; j++ {
			v := s.cov.At(i, j) / (n - 1)
			if i == j {
				v += jitter
			}
			scaled.SetSym(i, j, v)
		}
	}
	s.cholValid = s.chol.Factorize(scaled)
}

// AdaptScale runs one Robbins-Monro update for coordinate i (univariate
// method) using the observed accept indicator. Call only during a phase
// with model.Phase.BWUpdate set.
func (s *State) AdaptScale(i int, accepted bool) {
	s.stepCount[i]++
	s.attemptCount[i]++
	if accepted {
		s.acceptCount[i]++
	}
	alpha := 0.0
	if accepted {
		alpha = 1
	}
	step := (alpha - targetAcceptUni) / math.Pow(s.stepCount[i], defaultGamma)
	s.logScale[i] += step
}

// AdaptSharedScale runs the Robbins-Monro update for the block methods'
// single shared scale.
func (s *State) AdaptSharedScale(accepted bool) {
	s.sharedStepCount++
	s.sharedAttempt++
	if accepted {
		s.sharedAccept++
	}
	alpha := 0.0
	if accepted {
		alpha = 1
	}
	step := (alpha - targetAcceptBloc) / math.Pow(s.sharedStepCount, defaultGamma)
	s.sharedLogScale += step
}

// RecordAttempt is used by the particle when adaptation is disabled
// (sampling phase, or a burn-in phase with BWUpdate=false) but
// acceptance bookkeeping must still be reported.
func (s *State) RecordAttempt(i int, accepted bool) {
	s.attemptCount[i]++
	if accepted {
		s.acceptCount[i]++
	}
}

// RecordSharedAttempt is the block-method analogue of RecordAttempt.
func (s *State) RecordSharedAttempt(accepted bool) {
	s.sharedAttempt++
	if accepted {
		s.sharedAccept++
	}
}

// AcceptanceRate returns accepted/attempted ratios per coordinate
// (univariate method bookkeeping).
func (s *State) AcceptanceRate() []float64 {
	rates := make([]float64, s.dim)
	for i := range rates {
		if s.attemptCount[i] == 0 {
			continue
		}
		rates[i] = s.acceptCount[i] / s.attemptCount[i]
	}
	return rates
}

// SharedAcceptanceRate returns the block methods' shared accept/attempt
// ratio.
func (s *State) SharedAcceptanceRate() float64 {
	if s.sharedAttempt == 0 {
		return 0
	}
	return s.sharedAccept / s.sharedAttempt
}

func resize(dst []float64, n int) []float64 {
	if cap(dst) >= n {
		return dst[:n]
	}
	return make([]float64, n)
}
