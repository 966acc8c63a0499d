package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func impulseSignal(n, at int) []float64 {
	s := make([]float64, n)
	s[at] = 1.0
	return s
}

func TestConvolveKernel_DirectAndFFTAgreeBelowAndAboveThreshold(t *testing.T) {
	ar := DeriveAR2(SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 30})

	small := impulseSignal(200, 10)
	smallOut := ConvolveKernel(small, ar, 1.0, 30)

	kernel := kernelTaps(ar, 1.0, 30, len(small))
	direct := convolveDirect(small, kernel)
	for i := range smallOut {
		require.InDelta(t, direct[i], smallOut[i], 1e-9)
	}

	large := impulseSignal(fftConvolutionThreshold+500, 100)
	largeKernel := kernelTaps(ar, 1.0, 30, len(large))
	viaFFT := convolveFFT(large, largeKernel)
	viaDirect := convolveDirect(large, largeKernel)
	for i := range viaFFT {
		assert.InDelta(t, viaDirect[i], viaFFT[i], 1e-6)
	}
}

func TestConvolveKernel_DispatchesByLengthThreshold(t *testing.T) {
	ar := DeriveAR2(SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 30})
	below := ConvolveKernel(impulseSignal(100, 0), ar, 1.0, 30)
	above := ConvolveKernel(impulseSignal(fftConvolutionThreshold+10, 0), ar, 1.0, 30)
	assert.Len(t, below, 100)
	assert.Len(t, above, fftConvolutionThreshold+10)
}

func TestCorrelateKernel_IsAdjointOfConvolveKernel(t *testing.T) {
	ar := DeriveAR2(SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 30})
	n := 64
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(float64(i) * 0.3)
		y[i] = math.Cos(float64(i) * 0.17)
	}

	kx := ConvolveKernel(x, ar, 1.0, 30)
	kty := correlateKernel(y, ar, 1.0, 30)

	var lhs, rhs float64
	for i := 0; i < n; i++ {
		lhs += kx[i] * y[i]
		rhs += x[i] * kty[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-9)
}

func TestEstimateBaseline_EmptyInputReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, EstimateBaseline(nil))
}

func TestEstimateBaseline_ReturnsLowDecileMean(t *testing.T) {
	y := make([]float64, 100)
	for i := range y {
		y[i] = float64(i)
	}
	baseline := EstimateBaseline(y)
	assert.InDelta(t, 4.5, baseline, 1e-9) // mean of 0..9
}

func TestBandpassFilter_RemovesConstantBaseline(t *testing.T) {
	ar := DeriveAR2(SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: 30})
	y := make([]float64, 500)
	for i := range y {
		y[i] = 10.0 // pure DC baseline
	}
	filtered := bandpassFilter(y, ar)
	tailMean := 0.0
	for i := 400; i < 500; i++ {
		tailMean += filtered[i]
	}
	tailMean /= 100
	assert.Less(t, math.Abs(tailMean), 1.0)
}
