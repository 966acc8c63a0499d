package core

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Package-level defaults for every solver tunable. These are the values
// used when a SolverBundle field is left unset (nil / zero).
const (
	DefaultDebounceMS            = 30
	DefaultQuantumIterations     = 200
	DefaultBatchSize             = 32
	DefaultPoolSizeCap           = 4
	DefaultPaddingTauMultiplier  = 5.0
	DefaultMaxPaddingSeconds     = 300.0
	DefaultTauChangeThreshold    = 0.20
	DefaultConvergenceTolerance  = 1e-5
	DefaultOnIntermediateCadence = 10 // Hz, target wall-clock rate of on_intermediate callbacks
)

// SolverBundle groups every compile-time/init-time tunable into one
// YAML-loadable struct. Nil pointer fields mean "not set in YAML" — they
// fall back to the package defaults above rather than overriding them.
type SolverBundle struct {
	DebounceMS            *int     `yaml:"debounce_ms"`
	QuantumIterations     *int     `yaml:"quantum_iterations"`
	BatchSize             *int     `yaml:"batch_size"`
	PoolSizeCap           *int     `yaml:"pool_size_cap"`
	PaddingTauMultiplier  *float64 `yaml:"padding_tau_multiplier"`
	MaxPaddingSeconds     *float64 `yaml:"max_padding_seconds"`
	TauChangeThreshold    *float64 `yaml:"tau_change_threshold"`
	ConvergenceTolerance  *float64 `yaml:"convergence_tolerance"`
}

// LoadSolverBundle reads and strictly parses a YAML tunables file. Unknown
// keys (typos) are rejected rather than silently ignored.
func LoadSolverBundle(path string) (*SolverBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading solver config: %w", err)
	}
	var bundle SolverBundle
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("parsing solver config: %w", err)
	}
	return &bundle, nil
}

// ResolvedConfig is the fully-defaulted, non-pointer tunable set actually
// used at runtime, produced by resolving a (possibly nil) SolverBundle
// against the package defaults.
type ResolvedConfig struct {
	DebounceMS           int
	QuantumIterations    int
	BatchSize            int
	PoolSizeCap          int
	PaddingTauMultiplier float64
	MaxPaddingSeconds    float64
	TauChangeThreshold   float64
	ConvergenceTolerance float64
}

// DefaultConfig returns the ResolvedConfig with every field at its package
// default — equivalent to resolving a nil/empty SolverBundle.
func DefaultConfig() ResolvedConfig {
	return ResolvedConfig{
		DebounceMS:           DefaultDebounceMS,
		QuantumIterations:    DefaultQuantumIterations,
		BatchSize:            DefaultBatchSize,
		PoolSizeCap:          DefaultPoolSizeCap,
		PaddingTauMultiplier: DefaultPaddingTauMultiplier,
		MaxPaddingSeconds:    DefaultMaxPaddingSeconds,
		TauChangeThreshold:   DefaultTauChangeThreshold,
		ConvergenceTolerance: DefaultConvergenceTolerance,
	}
}

// Resolve merges a possibly-nil SolverBundle over the package defaults.
func Resolve(b *SolverBundle) ResolvedConfig {
	cfg := DefaultConfig()
	if b == nil {
		return cfg
	}
	if b.DebounceMS != nil {
		cfg.DebounceMS = *b.DebounceMS
	}
	if b.QuantumIterations != nil {
		cfg.QuantumIterations = *b.QuantumIterations
	}
	if b.BatchSize != nil {
		cfg.BatchSize = *b.BatchSize
	}
	if b.PoolSizeCap != nil {
		cfg.PoolSizeCap = *b.PoolSizeCap
	}
	if b.PaddingTauMultiplier != nil {
		cfg.PaddingTauMultiplier = *b.PaddingTauMultiplier
	}
	if b.MaxPaddingSeconds != nil {
		cfg.MaxPaddingSeconds = *b.MaxPaddingSeconds
	}
	if b.TauChangeThreshold != nil {
		cfg.TauChangeThreshold = *b.TauChangeThreshold
	}
	if b.ConvergenceTolerance != nil {
		cfg.ConvergenceTolerance = *b.ConvergenceTolerance
	}
	return cfg
}

// DefaultPoolSize returns min(hardware_concurrency, cap).
func DefaultPoolSize(cap int) int {
	n := runtime.GOMAXPROCS(0)
	if n > cap {
		return cap
	}
	if n < 1 {
		return 1
	}
	return n
}
