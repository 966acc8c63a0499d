// cmd/root.go
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catune/deconv-core/core"
)

var logLevel string

var (
	flagDebounceMS           int
	flagQuantumIterations    int
	flagBatchSize            int
	flagWorkers              int
	flagPaddingTauMultiplier float64
	flagMaxPaddingSeconds    float64
	flagTauChangeThreshold   float64
	flagConvergenceTolerance float64
)

var rootCmd = &cobra.Command{
	Use:   "deconv-core",
	Short: "Interactive fluorescence trace deconvolution core",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// applyFlagOverrides layers any explicitly-set per-tunable flag on top of
// cfg (itself already the result of layering a loaded bundle over the
// package defaults), giving the documented flag > bundle > default
// precedence. Flags left at their default value are not considered "set" —
// cmd.Flags().Changed is what decides whether a flag participates.
func applyFlagOverrides(cmd *cobra.Command, cfg core.ResolvedConfig) core.ResolvedConfig {
	flags := cmd.Flags()
	if flags.Changed("debounce-ms") {
		cfg.DebounceMS = flagDebounceMS
	}
	if flags.Changed("quantum-iterations") {
		cfg.QuantumIterations = flagQuantumIterations
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = flagBatchSize
	}
	if flags.Changed("workers") {
		cfg.PoolSizeCap = flagWorkers
	}
	if flags.Changed("padding-tau-multiplier") {
		cfg.PaddingTauMultiplier = flagPaddingTauMultiplier
	}
	if flags.Changed("max-padding-seconds") {
		cfg.MaxPaddingSeconds = flagMaxPaddingSeconds
	}
	if flags.Changed("tau-change-threshold") {
		cfg.TauChangeThreshold = flagTauChangeThreshold
	}
	if flags.Changed("convergence-tolerance") {
		cfg.ConvergenceTolerance = flagConvergenceTolerance
	}
	return cfg
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")

	rootCmd.PersistentFlags().IntVar(&flagDebounceMS, "debounce-ms", core.DefaultDebounceMS, "Debounce interval before a parameter change dispatches a solve, in milliseconds")
	rootCmd.PersistentFlags().IntVar(&flagQuantumIterations, "quantum-iterations", core.DefaultQuantumIterations, "Iteration budget handed to a solve before it yields and requeues")
	rootCmd.PersistentFlags().IntVar(&flagBatchSize, "batch-size", core.DefaultBatchSize, "Inner iterations between cancellation checks and on_intermediate emissions")
	rootCmd.PersistentFlags().IntVar(&flagWorkers, "workers", core.DefaultPoolSizeCap, "Worker pool size; when set, the pool is resized to exactly this many workers")
	rootCmd.PersistentFlags().Float64Var(&flagPaddingTauMultiplier, "padding-tau-multiplier", core.DefaultPaddingTauMultiplier, "Window padding, expressed as a multiple of tau_decay seconds")
	rootCmd.PersistentFlags().Float64Var(&flagMaxPaddingSeconds, "max-padding-seconds", core.DefaultMaxPaddingSeconds, "Upper bound on window padding, in seconds")
	rootCmd.PersistentFlags().Float64Var(&flagTauChangeThreshold, "tau-change-threshold", core.DefaultTauChangeThreshold, "Relative tau change that forces a Cold warm-start")
	rootCmd.PersistentFlags().Float64Var(&flagConvergenceTolerance, "convergence-tolerance", core.DefaultConvergenceTolerance, "Relative change in the primal iterate below which a solve is considered converged")
}
