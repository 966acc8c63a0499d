package core

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// IntermediateResult is emitted by the solver kernel at a bounded cadence
// for live UI feedback. Solution and Reconvolution are freshly allocated
// for each emission; the solver keeps no reference to them afterwards.
type IntermediateResult struct {
	Solution      []float32
	Reconvolution []float32
	Iteration     uint32
}

// CompleteResult is returned when a solve finishes (converged or hit its
// iteration budget).
type CompleteResult struct {
	Solution       []float32
	Reconvolution  []float32
	StateBlob      []byte
	Iterations     uint32
	Converged      bool
	FilteredTrace  []float32 // set only when params.FilterEnabled
}

// OnIntermediate is called by Solve every batchSize iterations while a
// solve is in progress; the cadence is counted in iterations, not
// wall-clock time.
type OnIntermediate func(IntermediateResult)

// CancelSignal is polled cooperatively by the solver's inner loop every
// BatchSize iterations. A true value aborts the current solve.
type CancelSignal interface {
	Cancelled() bool
}

// solverKernel is the FISTA solver: an accelerated proximal-gradient
// optimizer for minimizing (1/2)||y - K s||^2 + lambda ||s||_1 subject to
// s >= 0, where K is the linear convolution operator of the calcium kernel.
// Pure numerics; no I/O; no awareness of windowing or the pool. Each
// worker owns exactly one instance (see pool.go) so the Lipschitz cache
// below is never shared across goroutines.
type solverKernel struct {
	lipschitzCache map[lipschitzKey]float64
}

type lipschitzKey struct {
	tauRise, tauDecay, fs float64
	n                     int
}

func newSolverKernel() *solverKernel {
	return &solverKernel{lipschitzCache: make(map[lipschitzKey]float64)}
}

// estimateLipschitz estimates an upper bound on the spectral norm of K^T K
// via the power method, caching the result per (tau_rise, tau_decay, fs, n)
// so repeated solves with the same kernel skip the estimation.
func (k *solverKernel) estimateLipschitz(ar AR2Coeffs, params SolverParams, n int) float64 {
	key := lipschitzKey{params.TauRiseS, params.TauDecayS, params.Fs, n}
	if L, ok := k.lipschitzCache[key]; ok {
		return L
	}

	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, 1)
	}
	normalize(v)

	const iters = 30
	var lambda float64
	vec := make([]float64, n)
	for it := 0; it < iters; it++ {
		for i := 0; i < n; i++ {
			vec[i] = v.AtVec(i)
		}
		kv := ConvolveKernel(vec, ar, params.TauDecayS, params.Fs)
		ktkv := correlateKernel(kv, ar, params.TauDecayS, params.Fs)
		next := mat.NewVecDense(n, ktkv)
		lambda = next.Norm(2)
		if lambda == 0 {
			break
		}
		next.ScaleVec(1/lambda, next)
		v = next
	}
	if lambda <= 0 {
		lambda = 1
	}
	// Safety margin on the power-method estimate; avoids step-size
	// overshoot from an under-converged eigenvalue estimate.
	L := lambda * 1.05
	k.lipschitzCache[key] = L
	return L
}

func normalize(v *mat.VecDense) {
	n := v.Norm(2)
	if n == 0 {
		return
	}
	v.ScaleVec(1/n, v)
}

// softThresholdNonNeg applies the non-negative soft-thresholding proximal
// operator for the l1 penalty: max(x - thresh, 0).
func softThresholdNonNeg(x, thresh float64) float64 {
	v := x - thresh
	if v < 0 {
		return 0
	}
	return v
}

// Solve runs FISTA to (approximately) minimize the sparse-penalized
// reconstruction objective for trace against the calcium kernel derived
// from params, returning within maxIterations iterations. It never
// mutates trace, and emits at most one result: an error, or a
// CompleteResult with Converged set once relChange drops below
// convergenceTolerance.
func (k *solverKernel) Solve(
	trace []float32,
	params SolverParams,
	warmState []byte,
	strategy WarmStartStrategy,
	maxIterations uint32,
	batchSize int,
	convergenceTolerance float64,
	cancel CancelSignal,
	onIntermediate OnIntermediate,
) (CompleteResult, error) {
	if len(trace) == 0 {
		return CompleteResult{}, &InvalidInputError{Reason: "trace must be non-empty"}
	}
	if err := params.Validate(); err != nil {
		return CompleteResult{}, err
	}
	for _, v := range trace {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return CompleteResult{}, &InvalidInputError{Reason: "trace contains non-finite values"}
		}
	}

	n := len(trace)
	ar := DeriveAR2(params)

	y := make([]float64, n)
	for i, v := range trace {
		y[i] = float64(v)
	}

	var filtered []float64
	if params.FilterEnabled {
		filtered = bandpassFilter(y, ar)
		y = filtered
	}

	L := k.estimateLipschitz(ar, params, n)

	var state *stateBlobV1
	if strategy != Cold {
		if warmState == nil {
			return CompleteResult{}, &InvalidInputError{Reason: "warm_state is required for non-Cold warm_strategy"}
		}
		decoded, err := decodeStateBlob(warmState)
		if err != nil {
			return CompleteResult{}, &InvalidInputError{Reason: "warm_state is malformed: " + err.Error()}
		}
		if decoded.fingerprint.n != n {
			return CompleteResult{}, &InvalidInputError{Reason: "warm_state length fingerprint mismatch"}
		}
		state = decoded
	}

	s := make([]float64, n)   // primal iterate
	z := make([]float64, n)   // momentum iterate
	t := 1.0                  // Nesterov extrapolation coefficient
	prevObjective := math.Inf(1)

	switch strategy {
	case Warm:
		copy(s, state.primal)
		copy(z, state.momentum)
		t = state.extrapCoeff
		prevObjective = state.prevObjective
	case WarmNoMomentum:
		copy(s, state.primal)
		copy(z, state.primal)
		t = 1
	case Cold:
		// s, z already zero-valued.
	}

	thresh := params.Lambda / L
	var iteration uint32
	converged := false
	lastEmit := 0

	for iteration = 0; iteration < maxIterations; iteration++ {
		if int(iteration)%batchSize == 0 && cancel != nil && cancel.Cancelled() {
			return CompleteResult{}, errCancelled
		}

		kz := ConvolveKernel(z, ar, params.TauDecayS, params.Fs)
		residual := make([]float64, n)
		for i := range residual {
			residual[i] = kz[i] - y[i]
		}
		grad := correlateKernel(residual, ar, params.TauDecayS, params.Fs)

		sNext := make([]float64, n)
		for i := range sNext {
			step := z[i] - grad[i]/L
			sNext[i] = softThresholdNonNeg(step, thresh)
			if math.IsNaN(sNext[i]) || math.IsInf(sNext[i], 0) {
				return CompleteResult{}, &SolveError{Reason: "divergence"}
			}
		}

		tNext := (1 + math.Sqrt(1+4*t*t)) / 2
		momentumCoeff := (t - 1) / tNext
		for i := range z {
			z[i] = sNext[i] + momentumCoeff*(sNext[i]-s[i])
		}

		// relative change in s for the convergence check
		var deltaNormSq, normSq float64
		for i := range s {
			d := sNext[i] - s[i]
			deltaNormSq += d * d
			normSq += sNext[i] * sNext[i]
		}
		relChange := 0.0
		if normSq > 0 {
			relChange = math.Sqrt(deltaNormSq / normSq)
		}

		s = sNext
		t = tNext

		if relChange < convergenceTolerance {
			converged = true
			iteration++
			break
		}

		if onIntermediate != nil && int(iteration)-lastEmit >= batchSize {
			lastEmit = int(iteration)
			recon := reconstructionF32(s, ar, params, y)
			onIntermediate(IntermediateResult{
				Solution:      toF32(s),
				Reconvolution: recon,
				Iteration:     iteration,
			})
		}

		_ = prevObjective
	}

	// Objective (1/2)||y - K s||^2 + lambda ||s||_1 at the final iterate,
	// carried in the blob as the previous objective for the next slice.
	ks := ConvolveKernel(s, ar, params.TauDecayS, params.Fs)
	var sqErr, l1 float64
	for i := range s {
		r := y[i] - ks[i]
		sqErr += r * r
		l1 += math.Abs(s[i])
	}
	prevObjective = 0.5*sqErr + params.Lambda*l1

	recon := reconstructionF32(s, ar, params, y)
	blob := encodeStateBlob(&stateBlobV1{
		version:       1,
		primal:        s,
		momentum:      z,
		extrapCoeff:   t,
		prevObjective: prevObjective,
		iteration:     iteration,
		lipschitz:     L,
		fingerprint:   kernelFingerprint{tauRise: params.TauRiseS, tauDecay: params.TauDecayS, fs: params.Fs, filterEnabled: params.FilterEnabled, n: n},
	})

	result := CompleteResult{
		Solution:      toF32(s),
		Reconvolution: recon,
		StateBlob:     blob,
		Iterations:    iteration,
		Converged:     converged,
	}
	if params.FilterEnabled {
		result.FilteredTrace = toF32(filtered)
	}

	logrus.Debugf("solve complete: n=%d iterations=%d converged=%v lambda=%v", n, iteration, converged, params.Lambda)
	return result, nil
}

func reconstructionF32(s []float64, ar AR2Coeffs, params SolverParams, y []float64) []float32 {
	ks := ConvolveKernel(s, ar, params.TauDecayS, params.Fs)
	residual := make([]float64, len(y))
	for i := range residual {
		residual[i] = y[i] - ks[i]
	}
	baseline := EstimateBaseline(residual)
	out := make([]float32, len(s))
	for i := range out {
		out[i] = float32(ks[i] + baseline)
	}
	return out
}

func toF32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}
