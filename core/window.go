package core

import "math"

// WarmStartStrategy tags how much of a cached solve is reusable for a new
// request.
type WarmStartStrategy int

const (
	// Cold discards any cached state and initializes the primal to zero.
	Cold WarmStartStrategy = iota
	// WarmNoMomentum reuses the cached primal variable but resets momentum.
	WarmNoMomentum
	// Warm reuses the full cached state, including momentum.
	Warm
)

func (s WarmStartStrategy) String() string {
	switch s {
	case Cold:
		return "Cold"
	case WarmNoMomentum:
		return "WarmNoMomentum"
	case Warm:
		return "Warm"
	default:
		return "Unknown"
	}
}

// PaddedWindow is the result of expanding a visible viewport into a padded
// sub-problem boundary.
type PaddedWindow struct {
	PaddedStart  int
	PaddedEnd    int
	ResultOffset int
	ResultLength int
}

func ceilInt(x float64) int {
	return int(math.Ceil(x))
}

// ComputePaddedWindow expands [visibleStart, visibleEnd) within [0, traceLen)
// by enough samples that the calcium kernel's influence has decayed at the
// boundary, capped at MaxPaddingSeconds. Deterministic integer arithmetic.
func ComputePaddedWindow(visibleStart, visibleEnd, traceLen int, tauDecay, fs float64, cfg ResolvedConfig) PaddedWindow {
	visibleSamples := visibleEnd - visibleStart
	tauPadding := ceilInt(cfg.PaddingTauMultiplier * tauDecay * fs)
	maxPadding := ceilInt(cfg.MaxPaddingSeconds * fs)

	padding := visibleSamples
	if tauPadding > padding {
		padding = tauPadding
	}
	if padding > maxPadding {
		padding = maxPadding
	}
	if padding < 0 {
		padding = 0
	}

	paddedStart := visibleStart - padding
	if paddedStart < 0 {
		paddedStart = 0
	}
	paddedEnd := visibleEnd + padding
	if paddedEnd > traceLen {
		paddedEnd = traceLen
	}

	return PaddedWindow{
		PaddedStart:  paddedStart,
		PaddedEnd:    paddedEnd,
		ResultOffset: visibleStart - paddedStart,
		ResultLength: visibleEnd - visibleStart,
	}
}

// SafeMargin returns the number of boundary samples within a padded window
// that may carry convolution edge artifacts.
func SafeMargin(tauDecay, fs float64, cfg ResolvedConfig) int {
	return ceilInt(cfg.PaddingTauMultiplier * tauDecay * fs)
}

// WithinSafeRegion reports whether [visibleStart, visibleEnd) lies within
// the artifact-free interior of a previously computed padded window.
func WithinSafeRegion(visibleStart, visibleEnd int, w PaddedWindow, safeMargin int) bool {
	return visibleStart >= w.PaddedStart+safeMargin && visibleEnd <= w.PaddedEnd-safeMargin
}

// WarmEntry is the single cached solve kept per cell.
type WarmEntry struct {
	StateBlob   []byte
	Params      SolverParams
	PaddedStart int
	PaddedEnd   int
}

// WarmCache is a single-entry, per-cell cache of the most recent solve's
// state blob and padded window boundaries. It is owned exclusively by the
// control thread (the Cell Solve Manager's event loop) and is never
// accessed by worker goroutines, so it needs no synchronization.
type WarmCache struct {
	entry *WarmEntry
}

// Store overwrites the single cache slot.
func (c *WarmCache) Store(stateBlob []byte, params SolverParams, paddedStart, paddedEnd int) {
	c.entry = &WarmEntry{
		StateBlob:   stateBlob,
		Params:      params,
		PaddedStart: paddedStart,
		PaddedEnd:   paddedEnd,
	}
}

// Clear empties the cache, forcing the next request to classify as Cold.
func (c *WarmCache) Clear() {
	c.entry = nil
}

// Entry returns the cached entry, or nil if the cache is empty.
func (c *WarmCache) Entry() *WarmEntry {
	return c.entry
}

// GetStrategy classifies a request against the cached entry (if any) and
// returns the strategy plus the state blob to warm-start from (nil for
// Cold). Rules are evaluated in order:
//
//  1. No cached entry              -> Cold
//  2. Padded window bounds differ  -> Cold
//  3. fs or filter_enabled differ  -> Cold
//  4. Only lambda differs          -> Warm
//  5. RelativeChange of tau_rise or tau_decay >= threshold -> Cold
//  6. Otherwise                    -> WarmNoMomentum
func (c *WarmCache) GetStrategy(newParams SolverParams, paddedStart, paddedEnd int, cfg ResolvedConfig) (WarmStartStrategy, []byte) {
	e := c.entry
	if e == nil {
		return Cold, nil
	}
	if e.PaddedStart != paddedStart || e.PaddedEnd != paddedEnd {
		return Cold, nil
	}
	if e.Params.Fs != newParams.Fs || e.Params.FilterEnabled != newParams.FilterEnabled {
		return Cold, nil
	}
	riseChanged := RelativeChange(e.Params.TauRiseS, newParams.TauRiseS) >= cfg.TauChangeThreshold
	decayChanged := RelativeChange(e.Params.TauDecayS, newParams.TauDecayS) >= cfg.TauChangeThreshold
	if riseChanged || decayChanged {
		return Cold, nil
	}
	if e.Params.TauRiseS == newParams.TauRiseS && e.Params.TauDecayS == newParams.TauDecayS {
		// Only lambda (or nothing) differs.
		return Warm, e.StateBlob
	}
	return WarmNoMomentum, e.StateBlob
}
