package cmd

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/catune/deconv-core/core"
)

var (
	benchNumCells    int
	benchDuration    float64
	benchFs          float64
	benchNumSelected int
	benchConfigPath  string
	benchLambda      float64
	benchTauRise     float64
	benchTauDecay    float64
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Drive the deconvolution core against a synthetic dataset",
	Long:  "Synthesizes calcium traces, wires up a worker pool and a cell solve manager, replays a sequence of selection/parameter/zoom events, and reports aggregate metrics.",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		var bundle *core.SolverBundle
		if benchConfigPath != "" {
			var err error
			bundle, err = core.LoadSolverBundle(benchConfigPath)
			if err != nil {
				logrus.Fatalf("loading solver config: %v", err)
			}
		}
		cfg := core.Resolve(bundle)
		cfg = applyFlagOverrides(cmd, cfg)

		dataset := synthesizeDataset(benchNumCells, benchFs, benchDuration)
		metrics := &core.Metrics{}
		pool := core.NewWorkerPool(core.DefaultPoolSize(cfg.PoolSizeCap), cfg, metrics)
		if cmd.Flags().Changed("workers") {
			// --workers asks for an exact count rather than a cap fed
			// through DefaultPoolSize; Resize takes effect without
			// reconstructing the pool or the manager sitting on top of it.
			pool.Resize(flagWorkers)
		}

		updates := make(chan core.CellOutput, 256)
		manager := core.NewCellSolveManager(pool, cfg, dataset, func(out core.CellOutput) {
			select {
			case updates <- out:
			default:
			}
		})

		go func() {
			for out := range updates {
				logrus.Debugf("cell %d status=%s iter=%d", out.CellIndex, out.Status, out.IterationCount)
			}
		}()

		selected := make([]int, benchNumSelected)
		for i := range selected {
			selected[i] = i % benchNumCells
		}
		manager.SetSelection(selected)
		manager.SetGlobalParams(core.SolverParams{
			TauRiseS:      benchTauRise,
			TauDecayS:     benchTauDecay,
			Lambda:        benchLambda,
			Fs:            benchFs,
			FilterEnabled: true,
		})
		if len(selected) > 0 {
			manager.SetCellPriorityHint(selected[0], core.PriorityActive)
		}
		for _, idx := range selected {
			manager.ReportCellZoom(idx, 0, float64(dataset.NumTimepoints)/benchFs)
		}

		logrus.Infof("running bench for %.1fs against %d cells (%d selected)", benchDuration, benchNumCells, benchNumSelected)
		time.Sleep(time.Duration(benchDuration * float64(time.Second)))

		manager.Dispose()
		close(updates)
		metrics.Print()
	},
}

// synthesizeDataset generates synthetic AR(2) calcium traces with Poisson
// spiking and additive Gaussian noise, purely for exercising the pool and
// manager end to end without requiring a real recording on disk.
func synthesizeDataset(numCells int, fs, durationS float64) core.RawDataset {
	n := int(durationS * fs)
	if n < 1 {
		n = 1
	}
	rng := rand.New(rand.NewSource(1))
	data := make([]float32, numCells*n)

	ar := core.DeriveAR2(core.SolverParams{TauRiseS: 0.1, TauDecayS: 1.0, Fs: fs})
	for c := 0; c < numCells; c++ {
		trace := data[c*n : (c+1)*n]
		var cPrev1, cPrev2 float64
		for t := 0; t < n; t++ {
			spike := 0.0
			if rng.Float64() < 0.002 {
				spike = 1.0
			}
			cNow := ar.G1*cPrev1 + ar.G2*cPrev2 + spike
			noise := rng.NormFloat64() * 0.02
			trace[t] = float32(cNow + noise)
			cPrev2 = cPrev1
			cPrev1 = cNow
		}
	}
	return core.RawDataset{TraceData: data, NumCells: numCells, NumTimepoints: n, SampleRate: fs}
}

func init() {
	benchCmd.Flags().IntVar(&benchNumCells, "cells", 20, "Number of synthetic cells to generate")
	benchCmd.Flags().IntVar(&benchNumSelected, "selected", 5, "Number of cells to select for solving")
	benchCmd.Flags().Float64Var(&benchDuration, "duration", 3.0, "Bench run duration in seconds")
	benchCmd.Flags().Float64Var(&benchFs, "fs", 30.0, "Sample rate in Hz")
	benchCmd.Flags().Float64Var(&benchLambda, "lambda", 0.02, "L1 penalty weight")
	benchCmd.Flags().Float64Var(&benchTauRise, "tau-rise", 0.02, "Calcium rise time constant in seconds")
	benchCmd.Flags().Float64Var(&benchTauDecay, "tau-decay", 0.4, "Calcium decay time constant in seconds")
	benchCmd.Flags().StringVar(&benchConfigPath, "config", "", "Path to a solver tunables YAML file")

	rootCmd.AddCommand(benchCmd)
}
