// Package particle implements a single tempered chain: the mutable state
// at one inverse temperature beta, and the Metropolis sweep that advances
// it by one step.
package particle

import (
	"math"

	"github.com/laasousa/drjacoby/model"
	"github.com/laasousa/drjacoby/proposal"
	"github.com/laasousa/drjacoby/rng"
	"github.com/laasousa/drjacoby/transform"
)

// Particle holds one rung's chain: its inverse temperature, its current
// state in both parameter spaces, cached log-density values, and its own
// proposal machinery. Only the dataset and parameter transform are
// shared (read-only) across particles; everything else here is owned
// exclusively by this particle.
type Particle struct {
	Beta     float64
	Theta    []float64
	Phi      []float64
	LogLike  float64
	LogPrior float64
	Proposal *proposal.State

	transform transform.Set
	data      []float64
	loglike   model.LogLikelihood
	logprior  model.LogPrior

	thetaScratch []float64
	phiScratch   []float64
}

// New constructs a particle at the given inverse temperature, starting
// from theta (copied). It returns an error if the initial point is
// invalid: out of the transform's domain, or the host functions return a
// non-finite value at the starting point. The cached log-density must be
// usable from the very first state, not just after the first update.
func New(beta float64, theta []float64, tr transform.Set, data []float64, ll model.LogLikelihood, lp model.LogPrior) (*Particle, error) {
	thetaCopy := append([]float64(nil), theta...)
	phi, err := tr.ToPhi(thetaCopy, nil)
	if err != nil {
		return nil, err
	}
	llVal := ll(thetaCopy, data)
	lpVal := lp(thetaCopy)
	if math.IsNaN(llVal) || math.IsInf(llVal, 0) {
		return nil, &model.ConfigError{Msg: "initial log-likelihood is not finite"}
	}
	if math.IsNaN(lpVal) || math.IsInf(lpVal, 0) {
		return nil, &model.ConfigError{Msg: "initial log-prior is not finite"}
	}
	return &Particle{
		Beta:         beta,
		Theta:        thetaCopy,
		Phi:          phi,
		LogLike:      llVal,
		LogPrior:     lpVal,
		Proposal:     proposal.NewState(len(thetaCopy)),
		transform:    tr,
		data:         data,
		loglike:      ll,
		logprior:     lp,
		thetaScratch: make([]float64, len(thetaCopy)),
		phiScratch:   make([]float64, len(thetaCopy)),
	}, nil
}

// Sweep advances the particle by one Metropolis step under the given
// phase's proposal method and adaptation flags. For Univariate it
// performs a full per-coordinate sweep (one proposal-evaluate-accept
// cycle per parameter); for the block methods it performs a single joint
// proposal over all parameters.
func (p *Particle) Sweep(phase model.Phase, stream *rng.Stream) {
	switch phase.Method {
	case model.Univariate:
		for i := range p.Theta {
			p.stepUnivariate(i, phase, stream)
		}
	case model.BlockIsotropic:
		p.stepBlock(phase, stream, false)
	case model.BlockCorrelated:
		p.stepBlock(phase, stream, true)
	default:
		panic("particle: unknown proposal method")
	}
}

func (p *Particle) stepUnivariate(i int, phase model.Phase, stream *rng.Stream) {
	phiNew := p.Proposal.ProposeUnivariate(i, p.Phi, stream, p.phiScratch)
	accepted := p.tryAccept(phiNew, func(thetaOld, thetaNew []float64) float64 {
		return p.transform[i].LogAdjustment(thetaOld[i], thetaNew[i])
	}, stream)

	if phase.BWUpdate {
		p.Proposal.AdaptScale(i, accepted)
	} else {
		p.Proposal.RecordAttempt(i, accepted)
	}
	if phase.CovRecalc {
		p.Proposal.UpdateCovariance(p.Phi)
	}
}

func (p *Particle) stepBlock(phase model.Phase, stream *rng.Stream, correlated bool) {
	var phiNew []float64
	if correlated {
		var fellBack bool
		phiNew, fellBack = p.Proposal.ProposeBlockCorrelated(p.Phi, stream, p.phiScratch)
		_ = fellBack // falling back to isotropic for this draw is not an error
	} else {
		phiNew = p.Proposal.ProposeBlockIsotropic(p.Phi, stream, p.phiScratch)
	}

	accepted := p.tryAccept(phiNew, func(thetaOld, thetaNew []float64) float64 {
		return p.transform.LogAdjustment(thetaOld, thetaNew)
	}, stream)

	if phase.BWUpdate {
		p.Proposal.AdaptSharedScale(accepted)
	} else {
		p.Proposal.RecordSharedAttempt(accepted)
	}
	if phase.CovRecalc {
		p.Proposal.UpdateCovariance(p.Phi)
	}
}

// tryAccept evaluates the candidate phiNew, runs the Metropolis test,
// and mutates the particle's state in place on acceptance. adjustment
// computes the Jacobian term for the coordinates that actually moved.
func (p *Particle) tryAccept(phiNew []float64, adjustment func(thetaOld, thetaNew []float64) float64, stream *rng.Stream) bool {
	thetaNew := p.transform.ToTheta(phiNew, p.thetaScratch)
	if !allFinite(thetaNew) {
		return false // NumericError: reject without touching particle state.
	}

	llNew := p.loglike(thetaNew, p.data)
	if !isUsable(llNew) {
		llNew = math.Inf(-1) // UserError: treat as -Inf, forcing rejection.
	}
	lpNew := p.logprior(thetaNew)
	if !isUsable(lpNew) {
		return false
	}

	// At beta=0 the likelihood carries no weight in the posterior, so its
	// term is dropped rather than multiplied in: 0*(-Inf) is NaN, and a
	// NaN ratio compares false against every threshold, which would accept
	// unconditionally instead of falling back to the prior-only ratio.
	var llTerm float64
	if p.Beta != 0 {
		llTerm = p.Beta * (llNew - p.LogLike)
	}
	ratio := llTerm + (lpNew - p.LogPrior) + adjustment(p.Theta, thetaNew)
	u := stream.LogUniform()
	if u >= ratio {
		return false
	}

	copy(p.Theta, thetaNew)
	copy(p.Phi, phiNew)
	p.LogLike = llNew
	p.LogPrior = lpNew
	return true
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func isUsable(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 1)
}
