package drjacoby

import (
	"context"
	"sync"
	"time"

	"github.com/laasousa/drjacoby/diagnostics"
	"github.com/laasousa/drjacoby/model"
	"github.com/laasousa/drjacoby/particle"
	"github.com/laasousa/drjacoby/rng"
)

// Sampler owns the ordered ensemble of particles across the temperature
// ladder and runs the burn-in and sampling phases that advance them.
// Construct with New; a Sampler is used for exactly one Run.
type Sampler struct {
	cfg       *model.Config
	beta      []float64
	particles []*particle.Particle
	swapStats []diagnostics.SwapPairStats
	coldRung  int
}

// New builds a Sampler from a validated Config: it computes the
// temperature ladder and constructs one particle per rung, each starting
// from a fresh copy of the configured initial theta. It returns an error
// if the initial state is invalid at any rung, aborting before any
// iteration runs.
func New(cfg *model.Config) (*Sampler, error) {
	beta := cfg.Ladder()
	particles := make([]*particle.Particle, len(beta))
	for r, b := range beta {
		p, err := particle.New(b, cfg.InitTheta(), cfg.Transform, cfg.Data, cfg.LogLike, cfg.LogPrior)
		if err != nil {
			return nil, err
		}
		particles[r] = p
	}
	return &Sampler{
		cfg:       cfg,
		beta:      beta,
		particles: particles,
		swapStats: make([]diagnostics.SwapPairStats, maxInt(len(beta)-1, 0)),
		coldRung:  len(beta) - 1,
	}, nil
}

// Run executes burn-in followed by the sampling phase, honoring ctx
// cancellation at each iteration boundary. On cancellation, Run returns
// the partial Result built so far with Cancelled set, not an error.
func (s *Sampler) Run(ctx context.Context, settings Settings) (*Result, error) {
	start := time.Now()
	var seed int64
	if s.cfg.HasSeed {
		seed = s.cfg.Seed
	}
	stream := rng.New(seed, s.cfg.Chain)

	var trace []TraceRecord
	var globalIter int
	var stats Stats
	cancelled := false

	emit := func(phaseTag string, iteration int, settings Settings) error {
		for r, p := range s.particles {
			if !settings.RecordAllRungs && r != s.coldRung {
				continue
			}
			rec := TraceRecord{
				Rung:          r,
				Phase:         phaseTag,
				Iteration:     iteration,
				Theta:         append([]float64(nil), p.Theta...),
				LogPrior:      p.LogPrior,
				LogLikelihood: p.LogLike,
			}
			trace = append(trace, rec)
			if settings.Recorder != nil {
				if err := settings.Recorder.Record(rec); err != nil {
					return err
				}
			}
		}
		return nil
	}

runLoop:
	for _, phase := range s.cfg.Phases {
		s.applyPhaseResets(phase)
		for i := 0; i < phase.Iterations; i++ {
			if ctx.Err() != nil {
				cancelled = true
				break runLoop
			}
			s.sweepAll(phase, stream, globalIter, settings.Concurrent)
			if s.cfg.Coupling {
				s.attemptSwaps("burnin", stream)
			}
			if err := emit("burnin", i, settings); err != nil {
				return nil, err
			}
			globalIter++
			stats.BurninIterations++
		}
	}

	samplingPhase := model.Phase{
		Method:    lastPhaseMethod(s.cfg.Phases),
		BWUpdate:  false,
		BWReset:   false,
		CovRecalc: false,
	}
	if !cancelled {
		for i := 0; i < s.cfg.Samples; i++ {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			s.sweepAll(samplingPhase, stream, globalIter, settings.Concurrent)
			if s.cfg.Coupling {
				s.attemptSwaps("sampling", stream)
			}
			if err := emit("sampling", i, settings); err != nil {
				return nil, err
			}
			globalIter++
			stats.SamplingIterations++
		}
	}

	stats.Runtime = time.Since(start)

	result := &Result{
		Trace:  trace,
		Config: s.cfg,
		Stats:  stats,
		Diagnostics: Diagnostics{
			BetaRaised:     append([]float64(nil), s.beta...),
			SwapAcceptance: append([]diagnostics.SwapPairStats(nil), s.swapStats...),
		},
		Cancelled: cancelled,
	}
	s.fillDiagnostics(result, settings)
	return result, nil
}

func (s *Sampler) applyPhaseResets(phase model.Phase) {
	for _, p := range s.particles {
		if phase.BWReset {
			p.Proposal.ResetScale()
		}
		if phase.CovRecalc {
			p.Proposal.ResetCovariance()
		}
	}
}

// sweepAll advances every particle by one Metropolis sweep. Particle
// updates within one iteration are mutually independent, so the
// per-(rung, iteration) sub-stream is derived from the parent stream up
// front, in fixed rung order, before any concurrent work starts: this is
// what keeps the recorded trace identical whether or not
// settings.Concurrent is set.
func (s *Sampler) sweepAll(phase model.Phase, stream *rng.Stream, iteration int, concurrent bool) {
	subs := make([]*rng.Stream, len(s.particles))
	for r := range s.particles {
		subs[r] = stream.Sub(r, iteration)
	}

	if !concurrent {
		for r, p := range s.particles {
			p.Sweep(phase, subs[r])
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(s.particles))
	for r, p := range s.particles {
		r, p := r, p
		go func() {
			defer wg.Done()
			p.Sweep(phase, subs[r])
		}()
	}
	wg.Wait()
}

// attemptSwaps runs the R-1 adjacent-rung swap attempts in fixed
// descending order. Beta and proposal state stay with the rung slot;
// only (theta, phi, cached log-density) move between particles.
func (s *Sampler) attemptSwaps(phaseTag string, stream *rng.Stream) {
	for r := len(s.particles) - 1; r >= 1; r-- {
		hi := s.particles[r]
		lo := s.particles[r-1]

		logRatio := (hi.Beta - lo.Beta) * (lo.LogLike - hi.LogLike)
		u := stream.LogUniform()
		accepted := u < logRatio
		if accepted {
			hi.Theta, lo.Theta = lo.Theta, hi.Theta
			hi.Phi, lo.Phi = lo.Phi, hi.Phi
			hi.LogLike, lo.LogLike = lo.LogLike, hi.LogLike
			hi.LogPrior, lo.LogPrior = lo.LogPrior, hi.LogPrior
		}
		s.swapStats[r-1].Record(phaseTag, accepted)
	}
}

func (s *Sampler) fillDiagnostics(result *Result, settings Settings) {
	maxLag := settings.AutocorrelationMaxLag
	d := s.cfg.Dim()
	ess := make([]float64, d)
	acf := make([][]float64, d)
	for j := 0; j < d; j++ {
		series := result.ColdRungParamSeries(j)
		if len(series) == 0 {
			continue
		}
		ess[j] = diagnostics.ESS(series)
		lag := maxLag
		if lag == 0 {
			lag = len(series) - 1
			if lag > 2000 {
				lag = 2000
			}
		}
		acf[j] = diagnostics.Autocorrelation(series, lag)
	}
	result.Diagnostics.ESS = ess
	result.Diagnostics.Autocorrelation = acf
}

func lastPhaseMethod(phases []model.Phase) model.ProposalMethod {
	return phases[len(phases)-1].Method
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

