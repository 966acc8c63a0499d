package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputePaddedWindow_ExpandsBySeveralTauDecayConstants(t *testing.T) {
	cfg := DefaultConfig()
	w := ComputePaddedWindow(1000, 1100, 5000, 1.0, 30.0, cfg)
	wantPad := int(cfg.PaddingTauMultiplier * 1.0 * 30.0)
	assert.Equal(t, 1000-wantPad, w.PaddedStart)
	assert.Equal(t, 1100+wantPad, w.PaddedEnd)
	assert.Equal(t, 100, w.ResultLength)
	assert.Equal(t, wantPad, w.ResultOffset)
}

func TestComputePaddedWindow_ClampsAtTraceBoundaries(t *testing.T) {
	cfg := DefaultConfig()
	w := ComputePaddedWindow(0, 10, 20, 1.0, 30.0, cfg)
	assert.Equal(t, 0, w.PaddedStart)
	assert.Equal(t, 20, w.PaddedEnd)
}

func TestComputePaddedWindow_CapsPaddingAtMaxPaddingSeconds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPaddingSeconds = 1.0
	cfg.PaddingTauMultiplier = 100.0
	w := ComputePaddedWindow(100000, 100100, 1000000, 5.0, 30.0, cfg)
	maxPad := int(cfg.MaxPaddingSeconds * 30.0)
	assert.Equal(t, 100000-maxPad, w.PaddedStart)
	assert.Equal(t, 100100+maxPad, w.PaddedEnd)
}

func TestWithinSafeRegion_TrueWellInsideInterior(t *testing.T) {
	w := PaddedWindow{PaddedStart: 0, PaddedEnd: 1000}
	assert.True(t, WithinSafeRegion(200, 800, w, 150))
}

func TestWithinSafeRegion_FalseWhenTouchingMargin(t *testing.T) {
	w := PaddedWindow{PaddedStart: 0, PaddedEnd: 1000}
	assert.False(t, WithinSafeRegion(100, 800, w, 150))
	assert.False(t, WithinSafeRegion(200, 900, w, 150))
}

func TestWarmCache_GetStrategy_ColdWhenEmpty(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	strategy, blob := c.GetStrategy(SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}, 0, 100, cfg)
	assert.Equal(t, Cold, strategy)
	assert.Nil(t, blob)
}

func TestWarmCache_GetStrategy_ColdWhenPaddedBoundsDiffer(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)
	strategy, _ := c.GetStrategy(params, 0, 200, cfg)
	assert.Equal(t, Cold, strategy)
}

func TestWarmCache_GetStrategy_ColdWhenFsOrFilterDiffers(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)

	newFs := params
	newFs.Fs = 60
	strategy, _ := c.GetStrategy(newFs, 0, 100, cfg)
	assert.Equal(t, Cold, strategy)

	newFilter := params
	newFilter.FilterEnabled = true
	strategy, _ = c.GetStrategy(newFilter, 0, 100, cfg)
	assert.Equal(t, Cold, strategy)
}

func TestWarmCache_GetStrategy_WarmWhenOnlyLambdaDiffers(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Lambda: 0.01, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)

	newParams := params
	newParams.Lambda = 0.05
	strategy, blob := c.GetStrategy(newParams, 0, 100, cfg)
	assert.Equal(t, Warm, strategy)
	assert.Equal(t, []byte("state"), blob)
}

func TestWarmCache_GetStrategy_ColdWhenTauChangesPastThreshold(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)

	newParams := params
	newParams.TauDecayS = 2.0 // +100%, past the 20% default threshold
	strategy, _ := c.GetStrategy(newParams, 0, 100, cfg)
	assert.Equal(t, Cold, strategy)
}

func TestWarmCache_GetStrategy_WarmNoMomentumWhenTauChangesUnderThreshold(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)

	newParams := params
	newParams.TauDecayS = 1.05 // +5%, under the 20% default threshold
	strategy, blob := c.GetStrategy(newParams, 0, 100, cfg)
	assert.Equal(t, WarmNoMomentum, strategy)
	assert.NotNil(t, blob)
}

func TestWarmCache_Clear_ForcesColdAfterward(t *testing.T) {
	var c WarmCache
	cfg := DefaultConfig()
	params := SolverParams{TauRiseS: 0.1, TauDecayS: 1, Fs: 30}
	c.Store([]byte("state"), params, 0, 100)
	c.Clear()
	strategy, _ := c.GetStrategy(params, 0, 100, cfg)
	assert.Equal(t, Cold, strategy)
}
