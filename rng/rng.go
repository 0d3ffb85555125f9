// Package rng provides the sampler's splittable pseudo-random source.
//
// Parallel rung updates must remain reproducible regardless of the order
// worker goroutines finish in, so every (chain, rung, iteration) triple
// gets its own independent sub-stream rather than sharing one *rand.Rand
// across goroutines. math/rand/v2's PCG is a counter-style generator well
// suited to this: it is seeded from two 64-bit words and produces
// statistically independent streams for distinct seed pairs.
package rng

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Stream is one independent pseudo-random sub-stream. It wraps the
// stdlib's splittable PCG source behind the handful of draws the sampler
// needs: uniforms, standard normals, and a uniform-log-comparison helper
// for Metropolis accept tests.
type Stream struct {
	rnd *rand.Rand
}

// New constructs the root stream for a run from a user seed and chain
// identifier. A zero seed is a valid seed (it still produces a
// deterministic, well-distributed stream); there is no "random seed"
// fallback here, since the host (out of scope, §6) is responsible for
// supplying one when reproducibility is not required.
func New(seed int64, chain int) *Stream {
	return &Stream{rnd: rand.New(rand.NewPCG(uint64(seed), uint64(chain)))}
}

// Sub derives an independent sub-stream for one (rung, iteration) pair.
// Deriving from the parent's own draws (rather than from a pure hash of
// the indices) keeps the whole run dependent on the single root seed
// while still giving every sub-stream distinct, non-overlapping state.
func (s *Stream) Sub(rung, iteration int) *Stream {
	a := s.rnd.Uint64()
	b := uint64(rung)*1_000_003 + uint64(iteration)
	return &Stream{rnd: rand.New(rand.NewPCG(a, b))}
}

// Uniform draws a single Uniform(0,1) value.
func (s *Stream) Uniform() float64 {
	return s.rnd.Float64()
}

// Normal draws a single standard-normal value.
func (s *Stream) Normal() float64 {
	n := distuv.Normal{Mu: 0, Sigma: 1, Src: s.rnd}
	return n.Rand()
}

// NormalVector fills dst with len(dst) independent standard-normal draws.
func (s *Stream) NormalVector(dst []float64) {
	for i := range dst {
		dst[i] = s.Normal()
	}
}

// Uint64 implements rand.Source so a *Stream can be passed directly
// wherever a gonum distribution (e.g. distmv.NormalRand) wants a source
// to draw from, without exposing the underlying *rand.Rand.
func (s *Stream) Uint64() uint64 {
	return s.rnd.Uint64()
}

// LogUniform draws log(U), U ~ Uniform(0,1), clamped away from -Inf so a
// Metropolis comparison against it never produces a NaN or an
// always-true/always-false degenerate comparison on a zero draw. -745 is
// below log(math.SmallestNonzeroFloat64), comfortably past where any
// realistic acceptance ratio will fall.
func (s *Stream) LogUniform() float64 {
	const logClamp = -745.0
	u := s.rnd.Float64()
	if u <= 0 {
		return logClamp
	}
	lg := math.Log(u)
	if lg < logClamp {
		return logClamp
	}
	return lg
}
