package drjacoby_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	drjacoby "github.com/laasousa/drjacoby"
	"github.com/laasousa/drjacoby/model"
)

func normalMeanLogLike(sd float64) model.LogLikelihood {
	return func(theta, data []float64) float64 {
		mu := theta[0]
		var sum float64
		for _, x := range data {
			d := x - mu
			sum += -0.5 * d * d / (sd * sd)
		}
		return sum
	}
}

func flatLogPrior(lo, hi float64) model.LogPrior {
	return func(theta []float64) float64 {
		for _, v := range theta {
			if v < lo || v > hi {
				return math.Inf(-1)
			}
		}
		return 0
	}
}

func normalData(n int, mean, sd float64, seed uint64) []float64 {
	// A small deterministic linear congruential generator, independent of
	// the package under test, used only to fabricate a fixed dataset for
	// the tests.
	data := make([]float64, n)
	state := seed
	for i := range data {
		state = state*6364136223846793005 + 1442695040888963407
		u1 := float64(state>>11) / (1 << 53)
		state = state*6364136223846793005 + 1442695040888963407
		u2 := float64(state>>11) / (1 << 53)
		z := math.Sqrt(-2*math.Log(u1+1e-12)) * math.Cos(2*math.Pi*u2)
		data[i] = mean + sd*z
	}
	return data
}

func singlePhase(method model.ProposalMethod, iterations int) []model.Phase {
	return []model.Phase{
		{Iterations: iterations, Method: method, BWUpdate: true, BWReset: true, CovRecalc: method == model.BlockCorrelated},
	}
}

func TestNormalMeanRecoversPosterior(t *testing.T) {
	data := normalData(100, 3, 1, 1)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 1000), 10000, 1, false, 1, 0, 1, true,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.NoError(t, err)

	s, err := drjacoby.New(cfg)
	require.NoError(t, err)
	result, err := s.Run(context.Background(), drjacoby.Settings{})
	require.NoError(t, err)
	require.False(t, result.Cancelled)

	series := result.ColdRungParamSeries(0)
	require.Len(t, series, 10000)
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))
	assert.InDelta(t, 3.0, mean, 0.5)
	assert.Greater(t, result.Diagnostics.ESS[0], 100.0)
}

func TestDeterminismGivenSameSeed(t *testing.T) {
	data := normalData(50, 3, 1, 7)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	build := func() *drjacoby.Result {
		cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 50), 200, 1, false, 1, 0, 42, true,
			normalMeanLogLike(1), flatLogPrior(-10, 10))
		require.NoError(t, err)
		s, err := drjacoby.New(cfg)
		require.NoError(t, err)
		result, err := s.Run(context.Background(), drjacoby.Settings{})
		require.NoError(t, err)
		return result
	}

	r1 := build()
	r2 := build()
	require.Equal(t, len(r1.Trace), len(r2.Trace))
	for i := range r1.Trace {
		assert.Equal(t, r1.Trace[i].Theta, r2.Trace[i].Theta)
		assert.Equal(t, r1.Trace[i].LogLikelihood, r2.Trace[i].LogLikelihood)
		assert.Equal(t, r1.Trace[i].LogPrior, r2.Trace[i].LogPrior)
	}
}

func TestRungOneDisablesSwaps(t *testing.T) {
	data := normalData(20, 0, 1, 3)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 20), 50, 1, true, 1, 0, 0, false,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.NoError(t, err)
	s, err := drjacoby.New(cfg)
	require.NoError(t, err)
	result, err := s.Run(context.Background(), drjacoby.Settings{})
	require.NoError(t, err)
	assert.Empty(t, result.Diagnostics.SwapAcceptance)
}

func TestCouplingOffDisablesSwapsRegardlessOfRungs(t *testing.T) {
	data := normalData(20, 0, 1, 3)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 20), 50, 4, false, 2, 0, 0, false,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.NoError(t, err)
	s, err := drjacoby.New(cfg)
	require.NoError(t, err)
	result, err := s.Run(context.Background(), drjacoby.Settings{})
	require.NoError(t, err)
	for _, ss := range result.Diagnostics.SwapAcceptance {
		assert.Equal(t, 0, ss.BurninAttempted)
		assert.Equal(t, 0, ss.SamplingAttempted)
	}
}

func TestTwoRungLadderRecordsOneSwapPair(t *testing.T) {
	// A 2-rung ladder with GTI_pow=1 puts the hot rung at beta=0 and the
	// cold rung at beta=1. With coupling on there is exactly one swap
	// pair, attempted once per burn-in and once per sampling iteration.
	data := normalData(30, 0, 1, 9)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 500), 500, 2, true, 1, 0, 5, true,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.NoError(t, err)
	s, err := drjacoby.New(cfg)
	require.NoError(t, err)
	result, err := s.Run(context.Background(), drjacoby.Settings{})
	require.NoError(t, err)
	require.Len(t, result.Diagnostics.SwapAcceptance, 1)
	assert.Equal(t, 500, result.Diagnostics.SwapAcceptance[0].BurninAttempted)
	assert.Equal(t, 500, result.Diagnostics.SwapAcceptance[0].SamplingAttempted)
}

func TestConfigRejectionBeforeAnyIteration(t *testing.T) {
	params := []model.ParamDescriptor{{Name: "x", Lower: 5, Upper: 3, Init: 4}}
	_, err := model.NewConfig(nil, params, singlePhase(model.Univariate, 10), 10, 1, false, 1, 0, 0, false,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.Error(t, err)
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCancellationReturnsPartialTrace(t *testing.T) {
	data := normalData(20, 0, 1, 4)
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 10), 1000000, 1, false, 1, 0, 0, false,
		normalMeanLogLike(1), flatLogPrior(-10, 10))
	require.NoError(t, err)
	s, err := drjacoby.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before Run starts
	result, err := s.Run(ctx, drjacoby.Settings{})
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
}

func TestCombineRhatAcrossChains(t *testing.T) {
	params := []model.ParamDescriptor{{Name: "mu", Lower: -10, Upper: 10, Init: 0}}
	// Every chain samples the same posterior, so they share one dataset.
	data := normalData(40, 3, 1, 1)
	build := func(seed int64, chain int) *drjacoby.Result {
		cfg, err := model.NewConfig(data, params, singlePhase(model.Univariate, 100), 500, 1, false, 1, chain, seed, true,
			normalMeanLogLike(1), flatLogPrior(-10, 10))
		require.NoError(t, err)
		s, err := drjacoby.New(cfg)
		require.NoError(t, err)
		result, err := s.Run(context.Background(), drjacoby.Settings{})
		require.NoError(t, err)
		return result
	}

	results := []*drjacoby.Result{build(1, 0), build(2, 1), build(3, 2)}
	r := drjacoby.CombineRhat(results, 0)
	assert.False(t, math.IsNaN(r))
	assert.Less(t, r, 1.3)
}
