// Package core implements CaTune's interactive deconvolution compute core:
// the FISTA solver kernel, the overlap-and-discard windowing engine with its
// warm-start cache, the priority-aware cancellable worker pool, and the
// reactive Cell Solve Manager that ties them together.
package core

import (
	"fmt"
	"math"
)

// SolverParams is the immutable set of tunable knobs a solve is run with.
// Equality is field-wise exact — no fuzzy matching.
type SolverParams struct {
	TauRiseS      float64 // rise time constant, seconds
	TauDecayS     float64 // decay time constant, seconds
	Lambda        float64 // l1 sparsity weight
	Fs            float64 // sample rate, Hz
	FilterEnabled bool    // bandpass-prefilter the input trace
}

// Validate checks the invariants SolverParams must satisfy before reaching
// a solve: 0 < TauRiseS < TauDecayS, Lambda >= 0, Fs > 0.
func (p SolverParams) Validate() error {
	if !(p.TauRiseS > 0) {
		return &InvalidInputError{Reason: fmt.Sprintf("tau_rise_s must be > 0, got %v", p.TauRiseS)}
	}
	if !(p.TauDecayS > 0) {
		return &InvalidInputError{Reason: fmt.Sprintf("tau_decay_s must be > 0, got %v", p.TauDecayS)}
	}
	if p.TauRiseS >= p.TauDecayS {
		return &InvalidInputError{Reason: fmt.Sprintf("tau_rise_s (%v) must be strictly less than tau_decay_s (%v)", p.TauRiseS, p.TauDecayS)}
	}
	if p.Lambda < 0 {
		return &InvalidInputError{Reason: fmt.Sprintf("lambda must be >= 0, got %v", p.Lambda)}
	}
	if !(p.Fs > 0) {
		return &InvalidInputError{Reason: fmt.Sprintf("fs must be > 0, got %v", p.Fs)}
	}
	return nil
}

// AR2Coeffs holds the derived AR(2) autoregressive coefficients for a
// SolverParams: the calcium kernel is the impulse response of
// c[t] = g1*c[t-1] + g2*c[t-2] + s[t].
type AR2Coeffs struct {
	Dt float64
	D  float64
	R  float64
	G1 float64
	G2 float64
}

// DeriveAR2 computes the AR(2) coefficients for a (validated) SolverParams.
func DeriveAR2(p SolverParams) AR2Coeffs {
	dt := 1.0 / p.Fs
	d := math.Exp(-dt / p.TauDecayS)
	r := math.Exp(-dt / p.TauRiseS)
	return AR2Coeffs{
		Dt: dt,
		D:  d,
		R:  r,
		G1: d + r,
		G2: -(d * r),
	}
}

// RelativeChange returns |a-b| / max(|a|, |b|, smallest-nonzero), used by
// warm-start classification to detect "changed by >= 20%" style thresholds.
// Returns 0 when a == b (including a == b == 0).
func RelativeChange(a, b float64) float64 {
	if a == b {
		return 0
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}
