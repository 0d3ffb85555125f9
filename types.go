package drjacoby

import (
	"time"

	"github.com/laasousa/drjacoby/diagnostics"
	"github.com/laasousa/drjacoby/model"
)

// TraceRecord is one recorded iteration for one rung.
type TraceRecord struct {
	Rung          int
	Phase         string // "burnin" or "sampling"
	Iteration     int
	Theta         []float64
	LogPrior      float64
	LogLikelihood float64
}

// Recorder observes trace records as they are produced, without the core
// sampler importing a logging or persistence package of its own — the
// same role optimize.Settings.Recorder plays for gonum's optimizers. A
// nil Recorder is a valid Settings value; records still accumulate in
// Result.Trace either way.
type Recorder interface {
	Record(rec TraceRecord) error
}

// Settings configures one sampler run beyond what is already fixed by
// the Config (mirrors optimize.Settings's role of carrying run-level
// knobs that are not part of the problem definition itself).
type Settings struct {
	// Recorder, if non-nil, is called once per recorded TraceRecord in
	// iteration order. A Recorder error aborts the run and is returned
	// from Run.
	Recorder Recorder

	// RecordAllRungs, if true, records every rung each iteration
	// (burn-in and sampling alike); otherwise only the cold rung
	// (beta=1) is recorded.
	RecordAllRungs bool

	// Concurrent, if true, advances all rungs' particles in parallel
	// goroutines each iteration, since particle updates within one
	// iteration are mutually independent. Swap attempts always run
	// sequentially afterward regardless of this setting. The PRNG
	// sub-stream assigned to each (iteration, rung) pair is derived
	// before any goroutine is spawned, so the recorded trace is
	// identical whether or not Concurrent is set.
	Concurrent bool

	// AutocorrelationMaxLag bounds the lag range of the reported
	// Diagnostics.Autocorrelation. 0 selects a default of
	// min(2000, samples-1). Diagnostics.ESS does not use this setting;
	// diagnostics.ESS always caps its lag range at 2000.
	AutocorrelationMaxLag int
}

// Stats reports what a run actually did (mirrors optimize.Stats).
type Stats struct {
	BurninIterations   int
	SamplingIterations int
	Runtime            time.Duration
}

// Diagnostics is the convergence-diagnostics block of a Result.
type Diagnostics struct {
	// BetaRaised is the temperature ladder used for this run, indexed by
	// rung (with more than one rung, rung 0 is beta=0; the last rung is
	// always beta=1).
	BetaRaised []float64

	// SwapAcceptance holds one entry per adjacent rung pair (index i is
	// the pair between rung i and rung i+1), with separate burn-in and
	// sampling accept/attempt counts.
	SwapAcceptance []diagnostics.SwapPairStats

	// ESS and Autocorrelation are indexed by parameter, computed from the
	// cold-rung (beta=1) sampling-phase trace only.
	ESS             []float64
	Autocorrelation [][]float64
}

// Result is the output of a run: the trace, the diagnostics block, and
// the configuration that produced it, kept together for reproducibility.
type Result struct {
	Trace       []TraceRecord
	Diagnostics Diagnostics
	Config      *model.Config
	Stats       Stats

	// Cancelled reports whether the run stopped early because the
	// supplied context was done; Trace still holds every record
	// produced up to that point.
	Cancelled bool
}

// ColdRungParamSeries extracts the sampling-phase trace of one parameter
// on the cold rung, in iteration order. It is the series diagnostics.ESS
// and diagnostics.Rhat expect.
func (r *Result) ColdRungParamSeries(paramIdx int) []float64 {
	series := make([]float64, 0, r.Stats.SamplingIterations)
	for _, rec := range r.Trace {
		if rec.Phase != "sampling" || rec.Rung != len(r.Diagnostics.BetaRaised)-1 {
			continue
		}
		series = append(series, rec.Theta[paramIdx])
	}
	return series
}

// CombineRhat computes the Gelman-Rubin statistic for one parameter
// across several independent runs. Running multiple independent chains
// to feed this is the host's responsibility; this is the composition
// point where their cold-rung traces meet.
func CombineRhat(results []*Result, paramIdx int) float64 {
	chains := make([][]float64, len(results))
	for i, res := range results {
		chains[i] = res.ColdRungParamSeries(paramIdx)
	}
	return diagnostics.Rhat(chains)
}
