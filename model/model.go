// Package model holds the immutable inputs shared read-only by every
// particle in a run: the parameter descriptors, the observed dataset, and
// the temperature ladder derived from them.
package model

import (
	"fmt"
	"math"

	"github.com/laasousa/drjacoby/transform"
)

// LogLikelihood is the host-supplied log-likelihood, a pure function of a
// parameter vector and the dataset. A non-finite return is treated as
// -Inf by the particle, forcing rejection rather than aborting the run.
type LogLikelihood func(theta, data []float64) float64

// LogPrior is the host-supplied log-prior, a pure function of a
// parameter vector.
type LogPrior func(theta []float64) float64

// ParamDescriptor describes one model parameter: its name, bounds, and
// initial value. Immutable after Config.Validate succeeds.
type ParamDescriptor struct {
	Name  string
	Lower float64
	Upper float64
	Init  float64
}

// ConfigError reports an invalid configuration, detected once at load
// time. It is always returned, never panicked, since it reflects bad
// host input rather than a programming error in this module.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "drjacoby: config error: " + e.Msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Phase is one burn-in phase's schedule and adaptation flags. A Config
// carries an ordered sequence of Phases.
type Phase struct {
	Iterations int
	Method     ProposalMethod
	BWUpdate   bool // Robbins-Monro scale adaptation runs this phase.
	BWReset    bool // reset sigma to its initial value at phase start.
	CovRecalc  bool // reset and accumulate (mu, Sigma) this phase.
}

// ProposalMethod selects the proposal strategy for a burn-in phase or the
// (frozen) sampling phase.
type ProposalMethod int

const (
	// Univariate proposes and accepts one coordinate at a time.
	Univariate ProposalMethod = iota
	// BlockIsotropic proposes all coordinates jointly with a single
	// shared scale and no correlation structure.
	BlockIsotropic
	// BlockCorrelated proposes all coordinates jointly through the
	// running empirical covariance's Cholesky factor.
	BlockCorrelated
)

func (m ProposalMethod) String() string {
	switch m {
	case Univariate:
		return "univariate"
	case BlockIsotropic:
		return "block_isotropic"
	case BlockCorrelated:
		return "block_correlated"
	default:
		return "unknown"
	}
}

// Config is the full, validated, immutable configuration for a run.
// Construct with NewConfig, which runs Validate.
type Config struct {
	Data      []float64
	Params    []ParamDescriptor
	Phases    []Phase
	Samples   int
	Rungs     int
	Coupling  bool
	GTIPow    float64
	Chain     int
	Seed      int64
	HasSeed   bool
	LogLike   LogLikelihood
	LogPrior  LogPrior
	Transform transform.Set
}

// NewConfig validates the given fields and returns a ready-to-run Config,
// or a *ConfigError describing the first problem found. Validation never
// calls LogLike or LogPrior: a bad host function surfaces only later,
// when a sampler evaluates it at the initial point or during sampling.
func NewConfig(
	data []float64,
	params []ParamDescriptor,
	phases []Phase,
	samples, rungs int,
	coupling bool,
	gtiPow float64,
	chain int,
	seed int64,
	hasSeed bool,
	logLike LogLikelihood,
	logPrior LogPrior,
) (*Config, error) {
	names := make([]string, len(params))
	lower := make([]float64, len(params))
	upper := make([]float64, len(params))
	init := make([]float64, len(params))
	for i, p := range params {
		names[i] = p.Name
		lower[i] = p.Lower
		upper[i] = p.Upper
		init[i] = p.Init
	}

	c := &Config{
		Data:      append([]float64(nil), data...),
		Params:    append([]ParamDescriptor(nil), params...),
		Phases:    append([]Phase(nil), phases...),
		Samples:   samples,
		Rungs:     rungs,
		Coupling:  coupling,
		GTIPow:    gtiPow,
		Chain:     chain,
		Seed:      seed,
		HasSeed:   hasSeed,
		LogLike:   logLike,
		LogPrior:  logPrior,
		Transform: transform.NewSet(names, lower, upper),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that c describes a well-formed run, returning a
// *ConfigError describing the first problem found, or nil if c is
// ready to be passed to a Sampler. NewConfig already calls Validate;
// it is exposed separately so a host that builds or mutates a Config
// directly can pre-flight it before starting a run.
func (c *Config) Validate() error {
	if len(c.Params) == 0 {
		return configErrorf("at least one parameter is required")
	}
	for _, p := range c.Params {
		if !(p.Lower < p.Upper) {
			return configErrorf("parameter %q: lower bound %v is not less than upper bound %v", p.Name, p.Lower, p.Upper)
		}
		if p.Init < p.Lower || p.Init > p.Upper {
			return configErrorf("parameter %q: init %v outside [%v, %v]", p.Name, p.Init, p.Lower, p.Upper)
		}
	}
	if len(c.Phases) == 0 {
		return configErrorf("at least one burn-in phase is required")
	}
	for i, ph := range c.Phases {
		if ph.Iterations <= 0 {
			return configErrorf("phase %d: iterations must be positive, got %d", i, ph.Iterations)
		}
	}
	if c.Samples <= 0 {
		return configErrorf("samples must be positive, got %d", c.Samples)
	}
	if c.Rungs < 1 {
		return configErrorf("rungs must be >= 1, got %d", c.Rungs)
	}
	if c.GTIPow < 1 {
		return configErrorf("GTI_pow must be >= 1, got %v", c.GTIPow)
	}
	if c.LogLike == nil {
		return configErrorf("log-likelihood function is required")
	}
	if c.LogPrior == nil {
		return configErrorf("log-prior function is required")
	}
	return nil
}

// Dim returns the number of model parameters, d.
func (c *Config) Dim() int { return len(c.Params) }

// InitTheta returns a fresh copy of the initial parameter vector.
func (c *Config) InitTheta() []float64 {
	theta := make([]float64, c.Dim())
	for i, p := range c.Params {
		theta[i] = p.Init
	}
	return theta
}

// Ladder computes the R inverse temperatures beta_r = ((r-1)/(R-1))^p for
// r = 1..R. R=1 returns []float64{1} (a single cold rung, coupling
// disabled regardless of Config.Coupling).
func (c *Config) Ladder() []float64 {
	r := c.Rungs
	beta := make([]float64, r)
	if r == 1 {
		beta[0] = 1
		return beta
	}
	for i := 0; i < r; i++ {
		frac := float64(i) / float64(r-1)
		beta[i] = math.Pow(frac, c.GTIPow)
	}
	return beta
}
