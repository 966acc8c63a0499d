package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type neverCancel struct{}

func (neverCancel) Cancelled() bool { return false }

type alwaysCancel struct{}

func (alwaysCancel) Cancelled() bool { return true }

func syntheticTrace(n int) []float32 {
	ar := DeriveAR2(SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 30})
	trace := make([]float32, n)
	var prev1, prev2 float64
	for t := 0; t < n; t++ {
		spike := 0.0
		if t == 30 || t == 90 {
			spike = 1.0
		}
		c := ar.G1*prev1 + ar.G2*prev2 + spike
		trace[t] = float32(c)
		prev2 = prev1
		prev1 = c
	}
	return trace
}

func TestSolve_RejectsEmptyTrace(t *testing.T) {
	k := newSolverKernel()
	_, err := k.Solve(nil, SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}, nil, Cold, 10, 4, 1e-5, neverCancel{}, nil)
	assert.Error(t, err)
}

func TestSolve_RejectsInvalidParams(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(50)
	_, err := k.Solve(trace, SolverParams{TauRiseS: 1, TauDecayS: 0.1, Fs: 30}, nil, Cold, 10, 4, 1e-5, neverCancel{}, nil)
	assert.Error(t, err)
}

func TestSolve_RejectsNonFiniteTrace(t *testing.T) {
	k := newSolverKernel()
	trace := []float32{1, 2, float32(nan())}
	_, err := k.Solve(trace, SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}, nil, Cold, 10, 4, 1e-5, neverCancel{}, nil)
	assert.Error(t, err)
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestSolve_RejectsWarmStrategyWithoutWarmState(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(50)
	_, err := k.Solve(trace, SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}, nil, Warm, 10, 4, 1e-5, neverCancel{}, nil)
	assert.Error(t, err)
}

func TestSolve_ColdRunProducesNonNegativeSolution(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(200)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}
	result, err := k.Solve(trace, params, nil, Cold, 500, 16, 1e-6, neverCancel{}, nil)
	require.NoError(t, err)
	for _, v := range result.Solution {
		assert.GreaterOrEqual(t, v, float32(0))
	}
	assert.NotEmpty(t, result.StateBlob)
}

func TestSolve_CancellationReturnsCancelledSentinel(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(200)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}
	_, err := k.Solve(trace, params, nil, Cold, 5000, 4, 1e-12, alwaysCancel{}, nil)
	assert.ErrorIs(t, err, errCancelled)
}

func TestSolve_WarmRestartContinuesFromColdRunsState(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(200)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}

	first, err := k.Solve(trace, params, nil, Cold, 20, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)
	require.False(t, first.Converged)

	second, err := k.Solve(trace, params, first.StateBlob, Warm, 20, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)

	full, err := k.Solve(trace, params, nil, Cold, 40, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)

	for i := range full.Solution {
		assert.InDelta(t, full.Solution[i], second.Solution[i], 1e-3)
	}
}

func TestSolve_WarmNoMomentumResetsExtrapolationButKeepsPrimal(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(200)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}

	first, err := k.Solve(trace, params, nil, Cold, 20, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)

	second, err := k.Solve(trace, params, first.StateBlob, WarmNoMomentum, 1, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)

	// One iteration from t = 1 leaves t = (1 + sqrt(5)) / 2; the coefficient
	// carried over from the 20-iteration run would be far larger.
	state, err := decodeStateBlob(second.StateBlob)
	require.NoError(t, err)
	assert.InDelta(t, (1+math.Sqrt(5))/2, state.extrapCoeff, 1e-12)

	// Starting from a zero primal would make this step identical to a Cold one.
	cold, err := k.Solve(trace, params, nil, Cold, 1, 16, 1e-12, neverCancel{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, cold.Solution, second.Solution)
}

func TestSolve_EmitsIntermediateCallbacksBeforeCompletion(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(300)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}

	var calls int
	_, err := k.Solve(trace, params, nil, Cold, 200, 8, 1e-12, neverCancel{}, func(ir IntermediateResult) {
		calls++
		assert.Len(t, ir.Solution, len(trace))
	})
	require.NoError(t, err)
	assert.Positive(t, calls)
}

func TestSolve_FilterEnabledPopulatesFilteredTrace(t *testing.T) {
	k := newSolverKernel()
	trace := syntheticTrace(200)
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30, FilterEnabled: true}
	result, err := k.Solve(trace, params, nil, Cold, 50, 16, 1e-6, neverCancel{}, nil)
	require.NoError(t, err)
	assert.Len(t, result.FilteredTrace, len(trace))
}
