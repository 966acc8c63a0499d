package core

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// fftConvolutionThreshold is the trace length above which kernel
// convolution switches from direct summation to FFT-based evaluation.
const fftConvolutionThreshold = 4096

// kernelTaps returns the impulse response of the AR(2) calcium kernel,
// k(t) = exp(-t/tau_decay) - exp(-t/tau_rise) up to normalization, truncated
// once its magnitude has decayed below a small fraction of its peak. length
// bounds the number of taps so the kernel never exceeds the trace it will
// be convolved against.
func kernelTaps(ar AR2Coeffs, tauDecay, fs float64, length int) []float64 {
	maxTaps := ceilInt(DefaultPaddingTauMultiplier * tauDecay * fs)
	if maxTaps < 1 {
		maxTaps = 1
	}
	if maxTaps > length {
		maxTaps = length
	}
	if maxTaps < 1 {
		maxTaps = 1
	}

	taps := make([]float64, maxTaps)
	// Impulse response of c[t] = g1*c[t-1] + g2*c[t-2] + s[t] driven by a
	// unit impulse at t=0.
	var prev, prevPrev float64
	for t := 0; t < maxTaps; t++ {
		var v float64
		if t == 0 {
			v = 1
		} else {
			v = ar.G1*prev + ar.G2*prevPrev
		}
		taps[t] = v
		prevPrev = prev
		prev = v
	}
	peak := floats.Max(taps)
	if peak <= 0 {
		peak = 1
	}
	floats.Scale(1/peak, taps)
	return taps
}

// convolveDirect computes the linear convolution of signal with kernel,
// truncated to len(signal) ("K*s" operator applied forward), using direct
// summation. Used for short traces where FFT setup overhead dominates.
func convolveDirect(signal, kernel []float64) []float64 {
	n := len(signal)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		var acc float64
		kmax := t + 1
		if kmax > len(kernel) {
			kmax = len(kernel)
		}
		for k := 0; k < kmax; k++ {
			acc += kernel[k] * signal[t-k]
		}
		out[t] = acc
	}
	return out
}

// convolveFFT computes the same causal, length-n-truncated convolution as
// convolveDirect but via a real FFT (gonum.org/v1/gonum/dsp/fourier),
// used once traces grow large enough that O(n log n) beats O(n * tapCount).
func convolveFFT(signal, kernel []float64) []float64 {
	n := len(signal)
	m := n + len(kernel) - 1
	fftLen := nextPowerOfTwo(m)

	sigPad := make([]float64, fftLen)
	copy(sigPad, signal)
	kerPad := make([]float64, fftLen)
	copy(kerPad, kernel)

	fft := fourier.NewFFT(fftLen)
	sigFreq := fft.Coefficients(nil, sigPad)
	kerFreq := fft.Coefficients(nil, kerPad)

	prodFreq := make([]complex128, len(sigFreq))
	for i := range prodFreq {
		prodFreq[i] = sigFreq[i] * kerFreq[i]
	}

	full := fft.Sequence(nil, prodFreq)
	// fourier.FFT.Sequence returns the inverse transform unnormalized by
	// fftLen; normalize then truncate to the causal length-n result.
	out := make([]float64, n)
	scale := 1.0 / float64(fftLen)
	for t := 0; t < n; t++ {
		out[t] = full[t] * scale
	}
	return out
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// ConvolveKernel applies the calcium kernel derived from ar to s (the
// recovered activity), returning K*s truncated to len(s). Dispatches to
// the FFT or direct implementation based on trace length.
func ConvolveKernel(s []float64, ar AR2Coeffs, tauDecay, fs float64) []float64 {
	kernel := kernelTaps(ar, tauDecay, fs, len(s))
	if len(s) > fftConvolutionThreshold {
		return convolveFFT(s, kernel)
	}
	return convolveDirect(s, kernel)
}

// correlateKernel applies the time-reversed kernel (K^T) to a residual
// vector, i.e. the adjoint of ConvolveKernel, used in the FISTA gradient
// step grad = K^T (K s - y).
func correlateKernel(r []float64, ar AR2Coeffs, tauDecay, fs float64) []float64 {
	kernel := kernelTaps(ar, tauDecay, fs, len(r))
	n := len(r)
	out := make([]float64, n)
	for t := 0; t < n; t++ {
		var acc float64
		for k := 0; k < len(kernel); k++ {
			j := t + k
			if j >= n {
				break
			}
			acc += kernel[k] * r[j]
		}
		out[t] = acc
	}
	return out
}

// bandpassFilter applies a simple two-pass IIR bandpass derived from the
// same kernel time constants: a high-pass (one-pole, cutoff ~1/tau_decay)
// removes baseline drift, and a low-pass (one-pole, cutoff ~1/tau_rise)
// removes energy above what the kernel can produce. Used when
// params.FilterEnabled is set.
func bandpassFilter(y []float64, ar AR2Coeffs) []float64 {
	n := len(y)
	if n == 0 {
		return y
	}
	// High-pass: y_hp[t] = alpha*(y_hp[t-1] + y[t] - y[t-1]), alpha derived
	// from the decay time constant so baseline drift slower than the
	// kernel's own decay is removed.
	alphaHP := ar.D
	hp := make([]float64, n)
	hp[0] = 0
	for t := 1; t < n; t++ {
		hp[t] = alphaHP * (hp[t-1] + y[t] - y[t-1])
	}
	// Low-pass: one-pole smoothing at the rise time constant, removing
	// energy faster than the kernel can produce.
	alphaLP := 1 - ar.R
	lp := make([]float64, n)
	lp[0] = hp[0]
	for t := 1; t < n; t++ {
		lp[t] = lp[t-1] + alphaLP*(hp[t]-lp[t-1])
	}
	return lp
}

// EstimateBaseline returns the mean of the lowest decile of y, a robust
// floor estimate used to report reconv = K*s + baseline. Division by zero
// (empty input) yields 0, not NaN.
func EstimateBaseline(y []float64) float64 {
	n := len(y)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), y...)
	floats.Sort(sorted)
	k := n / 10
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	sum := floats.Sum(sorted[:k])
	if k == 0 {
		return 0
	}
	return sum / float64(k)
}
