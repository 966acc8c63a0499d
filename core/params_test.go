package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolverParams_Validate_RejectsNonPositiveTau(t *testing.T) {
	p := SolverParams{TauRiseS: 0, TauDecayS: 1, Lambda: 0.1, Fs: 30}
	err := p.Validate()
	require.Error(t, err)
	var invalid *InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestSolverParams_Validate_RejectsRiseNotLessThanDecay(t *testing.T) {
	p := SolverParams{TauRiseS: 1, TauDecayS: 1, Lambda: 0.1, Fs: 30}
	assert.Error(t, p.Validate())
}

func TestSolverParams_Validate_RejectsNegativeLambda(t *testing.T) {
	p := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: -0.1, Fs: 30}
	assert.Error(t, p.Validate())
}

func TestSolverParams_Validate_AcceptsWellFormedParams(t *testing.T) {
	p := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.1, Fs: 30}
	assert.NoError(t, p.Validate())
}

func TestDeriveAR2_MatchesClosedForm(t *testing.T) {
	p := SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 10}
	ar := DeriveAR2(p)
	assert.InDelta(t, 0.1, ar.Dt, 1e-12)
	assert.InDelta(t, ar.D+ar.R, ar.G1, 1e-12)
	assert.InDelta(t, -(ar.D * ar.R), ar.G2, 1e-12)
	assert.Greater(t, ar.D, ar.R) // slower decay than rise means D decays slower per step
}

func TestRelativeChange_ZeroWhenEqual(t *testing.T) {
	assert.Equal(t, 0.0, RelativeChange(1.0, 1.0))
	assert.Equal(t, 0.0, RelativeChange(0.0, 0.0))
}

func TestRelativeChange_ScalesByLargerMagnitude(t *testing.T) {
	assert.InDelta(t, 0.5, RelativeChange(1.0, 2.0), 1e-12)
	assert.InDelta(t, 0.5, RelativeChange(-1.0, -2.0), 1e-12)
}
