package core

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// CellStatus is the status tag surfaced to the UI for a given cell.
type CellStatus int

const (
	StatusStale CellStatus = iota
	StatusSolving
	StatusFresh
	StatusError
)

func (s CellStatus) String() string {
	switch s {
	case StatusStale:
		return "Stale"
	case StatusSolving:
		return "Solving"
	case StatusFresh:
		return "Fresh"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CellPriorityHint classifies a selected cell's on-screen relevance for
// the pool's dynamic priority function: Active (currently
// selected/hovered), Visible (selected and on-screen), or OffScreen.
// Newly selected cells default to Visible.
type CellPriorityHint int

const (
	PriorityActive CellPriorityHint = iota
	PriorityVisible
	PriorityOffScreen
)

// CellOutput is the per-cell reactive payload surfaced to the UI.
type CellOutput struct {
	CellIndex           int
	DeconvolvedSlice   []float32
	ReconvolutionSlice []float32
	FilteredSlice      []float32
	WindowStartSample  int
	IterationCount     uint32
	Status             CellStatus
	LastErrorMessage   string
}

// cellState is the per-cell solve state the manager owns exclusively. All
// fields are touched only from the manager's single control goroutine,
// except priorityClass which the pool reads concurrently via the job's
// PriorityFunc closure.
type cellState struct {
	cellIndex int
	rawTrace  []float32

	zoomStartS float64
	zoomEndS   float64

	warmCache WarmCache

	activeJobID      JobID
	debounceTimer    *time.Timer
	debounceGen      uint64
	converged        bool
	deferredRequeue  bool
	dispatchedParams SolverParams

	cachedPaddedBounds        PaddedWindow
	cachedPaddedSolution      []float32
	cachedPaddedReconvolution []float32
	cachedPaddedFiltered      []float32

	status       CellStatus
	lastError    string

	priorityClass atomic.Int32 // CellPriorityHint, read concurrently by the pool
}

// CellSolveManager translates selection changes, global parameter
// changes, and per-cell zoom reports into a minimal stream of solver jobs,
// and surfaces live results per cell.
type CellSolveManager struct {
	pool    *WorkerPool
	cfg     ResolvedConfig
	dataset RawDataset

	onUpdate func(CellOutput)

	events chan Event

	cells      map[int]*cellState
	activeCell atomic.Int64 // cellIndex of the hovered/active cell, -1 if none

	globalParams SolverParams
	paramsSet    bool

	jobSeq atomic.Uint64
}

// hasValidParams reports whether the UI has ever supplied solver
// parameters. Before the first SetGlobalParams call, selected cells sit
// idle in Stale status rather than dispatching against a zero-value
// SolverParams.
func (m *CellSolveManager) hasValidParams() bool {
	return m.paramsSet
}

// NewCellSolveManager constructs a manager around an already-created
// WorkerPool. onUpdate is invoked from the manager's single control
// goroutine every time a cell's reactive output changes; it must not
// block.
func NewCellSolveManager(pool *WorkerPool, cfg ResolvedConfig, dataset RawDataset, onUpdate func(CellOutput)) *CellSolveManager {
	m := &CellSolveManager{
		pool:     pool,
		cfg:      cfg,
		dataset:  dataset,
		onUpdate: onUpdate,
		events:   make(chan Event, 256),
		cells:    make(map[int]*cellState),
	}
	m.activeCell.Store(-1)
	go m.run()
	return m
}

func (m *CellSolveManager) run() {
	for ev := range m.events {
		if d, ok := ev.(disposeEvent); ok {
			d.Execute(m)
			return
		}
		ev.Execute(m)
	}
}

func (m *CellSolveManager) nextJobID() JobID {
	return JobID(m.jobSeq.Add(1))
}

// SetSelection updates the set of selected cells, diffing against the
// current set: deselected cells are torn down, newly selected cells are
// seeded and, once global parameters have been set, dispatched immediately.
func (m *CellSolveManager) SetSelection(cellIndices []int) {
	selected := make(map[int]bool, len(cellIndices))
	for _, c := range cellIndices {
		selected[c] = true
	}
	m.events <- selectionChangedEvent{selected: selected}
}

// SetGlobalParams reacts to a change in the live-tuned solver parameters:
// every in-flight job is cancelled and every selected cell is scheduled
// for a debounced redispatch.
func (m *CellSolveManager) SetGlobalParams(params SolverParams) {
	m.events <- paramChangedEvent{params: params}
}

// ReportCellZoom updates a cell's viewport.
func (m *CellSolveManager) ReportCellZoom(cellIndex int, startS, endS float64) {
	m.events <- zoomReportedEvent{cellIndex: cellIndex, startS: startS, endS: endS}
}

// SetCellPriorityHint marks cellIndex as Active, Visible, or OffScreen for
// the pool's dynamic priority function. Changing a previously off-screen
// cell to Active promotes its pending/in-progress job ahead of other
// pending jobs at the pool's very next drain tick, without a new dispatch.
func (m *CellSolveManager) SetCellPriorityHint(cellIndex int, hint CellPriorityHint) {
	m.events <- priorityHintEvent{cellIndex: cellIndex, hint: hint}
}

// Dispose cancels everything, disposes the pool, and stops the manager's
// control goroutine. Blocks until shutdown completes.
func (m *CellSolveManager) Dispose() {
	done := make(chan struct{})
	m.events <- disposeEvent{done: done}
	<-done
}

// --- reducers (run only on the manager's control goroutine) ---

func (m *CellSolveManager) handleSelectionChanged(selected map[int]bool) {
	for idx, cell := range m.cells {
		if !selected[idx] {
			m.teardownCell(cell)
			delete(m.cells, idx)
		}
	}
	for idx := range selected {
		if _, exists := m.cells[idx]; exists {
			continue
		}
		trace := m.dataset.CellTrace(idx)
		cell := &cellState{
			cellIndex:  idx,
			rawTrace:   trace,
			zoomStartS: 0,
			zoomEndS:   float64(len(trace)) / m.dataset.SampleRate,
			status:     StatusStale,
		}
		cell.priorityClass.Store(int32(PriorityVisible))
		m.cells[idx] = cell
		m.publishZero(cell)
		if m.hasValidParams() {
			m.dispatchCell(cell)
		}
	}
}

func (m *CellSolveManager) teardownCell(cell *cellState) {
	if cell.activeJobID != 0 {
		m.pool.Cancel(cell.activeJobID)
	}
	if cell.debounceTimer != nil {
		cell.debounceTimer.Stop()
	}
}

func (m *CellSolveManager) handleParamChanged(params SolverParams) {
	m.pool.CancelAll()
	m.globalParams = params
	m.paramsSet = true
	for _, cell := range m.cells {
		cell.activeJobID = 0
		cell.converged = false
		cell.status = StatusStale
		cell.cachedPaddedSolution = nil
		cell.cachedPaddedReconvolution = nil
		cell.cachedPaddedFiltered = nil
		cell.lastError = ""
		m.scheduleDebounce(cell)
	}
}

func (m *CellSolveManager) handleZoomReported(cellIndex int, startS, endS float64) {
	cell, ok := m.cells[cellIndex]
	if !ok {
		return
	}
	cell.zoomStartS = startS
	cell.zoomEndS = endS
	if !m.hasValidParams() {
		return
	}

	visStart, visEnd := m.sampleBounds(cell)
	safeMargin := SafeMargin(m.globalParams.TauDecayS, m.globalParams.Fs, m.cfg)

	if cell.cachedPaddedSolution != nil && WithinSafeRegion(visStart, visEnd, cell.cachedPaddedBounds, safeMargin) {
		m.publishFromCache(cell, visStart, visEnd)
		if !cell.converged {
			m.scheduleDebounce(cell)
		}
		return
	}

	if cell.activeJobID != 0 {
		m.pool.Cancel(cell.activeJobID)
		cell.activeJobID = 0
	}
	m.scheduleDebounce(cell)
}

func (m *CellSolveManager) handlePriorityHint(cellIndex int, hint CellPriorityHint) {
	cell, ok := m.cells[cellIndex]
	if !ok {
		return
	}
	if hint == PriorityActive {
		m.activeCell.Store(int64(cellIndex))
	} else if m.activeCell.Load() == int64(cellIndex) {
		m.activeCell.Store(-1)
	}
	cell.priorityClass.Store(int32(hint))
	m.checkDeferredRequeues()
}

func (m *CellSolveManager) handleDebounceFired(cellIndex int, generation uint64) {
	cell, ok := m.cells[cellIndex]
	if !ok {
		return
	}
	if generation != cell.debounceGen {
		return // a newer debounce trigger superseded this one
	}
	if cell.activeJobID != 0 {
		return // a solve is already in flight; its own completion drives the next step
	}
	m.dispatchCell(cell)
}

func (m *CellSolveManager) handleWorkerIntermediate(cellIndex int, jobID JobID, result IntermediateResult) {
	cell, ok := m.cells[cellIndex]
	if !ok || cell.activeJobID != jobID {
		return // stale
	}
	cell.cachedPaddedSolution = result.Solution
	cell.cachedPaddedReconvolution = result.Reconvolution
	visStart, visEnd := m.sampleBounds(cell)
	m.publish(cell, visStart, visEnd, StatusSolving, result.Iteration)
}

func (m *CellSolveManager) handleWorkerComplete(cellIndex int, jobID JobID, result CompleteResult) {
	cell, ok := m.cells[cellIndex]
	if !ok || cell.activeJobID != jobID {
		return // stale
	}
	cell.activeJobID = 0
	cell.converged = result.Converged
	cell.cachedPaddedSolution = result.Solution
	cell.cachedPaddedReconvolution = result.Reconvolution
	cell.cachedPaddedFiltered = result.FilteredTrace
	cell.warmCache.Store(result.StateBlob, cell.dispatchedParams, cell.cachedPaddedBounds.PaddedStart, cell.cachedPaddedBounds.PaddedEnd)

	visStart, visEnd := m.sampleBounds(cell)
	status := StatusSolving
	if result.Converged {
		status = StatusFresh
	}
	m.publish(cell, visStart, visEnd, status, result.Iterations)

	if !result.Converged {
		if CellPriorityHint(cell.priorityClass.Load()) == PriorityOffScreen && m.higherPriorityCellUnconverged(cellIndex) {
			cell.deferredRequeue = true
		} else {
			m.scheduleDebounce(cell)
		}
	}
	m.checkDeferredRequeues()
}

func (m *CellSolveManager) handleWorkerCancelled(cellIndex int, jobID JobID) {
	cell, ok := m.cells[cellIndex]
	if !ok || cell.activeJobID != jobID {
		return // stale; the manager already moved on
	}
	cell.activeJobID = 0
}

func (m *CellSolveManager) handleWorkerError(cellIndex int, jobID JobID, err error) {
	cell, ok := m.cells[cellIndex]
	if !ok || cell.activeJobID != jobID {
		return // stale
	}
	cell.activeJobID = 0
	cell.status = StatusError
	cell.lastError = err.Error()
	cell.warmCache.Clear()
	logrus.Warnf("cell %d solve error: %v", cellIndex, err)
	visStart, visEnd := m.sampleBounds(cell)
	m.publish(cell, visStart, visEnd, StatusError, 0)
}

func (m *CellSolveManager) handleDispose(done chan struct{}) {
	for _, cell := range m.cells {
		m.teardownCell(cell)
	}
	m.pool.Dispose()
	close(done)
}

// checkDeferredRequeues releases any off-screen cell whose deferral
// condition ("a higher-priority cell is still unconverged") no longer
// holds. Cost is O(number of selected cells).
func (m *CellSolveManager) checkDeferredRequeues() {
	for idx, cell := range m.cells {
		if !cell.deferredRequeue {
			continue
		}
		if !m.higherPriorityCellUnconverged(idx) {
			cell.deferredRequeue = false
			m.scheduleDebounce(cell)
		}
	}
}

func (m *CellSolveManager) higherPriorityCellUnconverged(excludeIdx int) bool {
	for idx, cell := range m.cells {
		if idx == excludeIdx {
			continue
		}
		hint := CellPriorityHint(cell.priorityClass.Load())
		if hint == PriorityOffScreen {
			continue
		}
		if !cell.converged {
			return true
		}
	}
	return false
}

func (m *CellSolveManager) scheduleDebounce(cell *cellState) {
	if cell.debounceTimer != nil {
		cell.debounceTimer.Stop()
	}
	cell.debounceGen++
	gen := cell.debounceGen
	idx := cell.cellIndex
	cell.debounceTimer = time.AfterFunc(time.Duration(m.cfg.DebounceMS)*time.Millisecond, func() {
		m.events <- debounceFiredEvent{cellIndex: idx, generation: gen}
	})
}

func (m *CellSolveManager) sampleBounds(cell *cellState) (int, int) {
	fs := m.globalParams.Fs
	start := int(cell.zoomStartS * fs)
	end := int(cell.zoomEndS * fs)
	if start < 0 {
		start = 0
	}
	if end > len(cell.rawTrace) {
		end = len(cell.rawTrace)
	}
	if end < start {
		end = start
	}
	return start, end
}

func (m *CellSolveManager) dispatchCell(cell *cellState) {
	visStart, visEnd := m.sampleBounds(cell)
	window := ComputePaddedWindow(visStart, visEnd, len(cell.rawTrace), m.globalParams.TauDecayS, m.globalParams.Fs, m.cfg)
	strategy, warmBlob := cell.warmCache.GetStrategy(m.globalParams, window.PaddedStart, window.PaddedEnd, m.cfg)

	jobID := m.nextJobID()
	cell.activeJobID = jobID
	cell.dispatchedParams = m.globalParams
	cell.cachedPaddedBounds = window

	padded := append([]float32(nil), cell.rawTrace[window.PaddedStart:window.PaddedEnd]...)
	idx := cell.cellIndex

	job := &Job{
		ID:            jobID,
		PaddedTrace:   padded,
		Params:        m.globalParams,
		WarmState:     warmBlob,
		WarmStrategy:  strategy,
		MaxIterations: uint32(m.cfg.QuantumIterations),
		Priority:      m.priorityFuncFor(cell),
		Callbacks: JobCallbacks{
			OnIntermediate: func(r IntermediateResult) {
				m.events <- workerIntermediateEvent{cellIndex: idx, jobID: jobID, result: r}
			},
			OnComplete: func(r CompleteResult) {
				m.events <- workerCompleteEvent{cellIndex: idx, jobID: jobID, result: r}
			},
			OnCancelled: func() {
				m.events <- workerCancelledEvent{cellIndex: idx, jobID: jobID}
			},
			OnError: func(err error) {
				m.events <- workerErrorEvent{cellIndex: idx, jobID: jobID, err: err}
			},
		},
	}
	m.pool.Dispatch(job)
}

func (m *CellSolveManager) priorityFuncFor(cell *cellState) PriorityFunc {
	idx := cell.cellIndex
	return func() int {
		if m.activeCell.Load() == int64(idx) {
			return int(PriorityActive)
		}
		return int(cell.priorityClass.Load())
	}
}

func (m *CellSolveManager) publishZero(cell *cellState) {
	visStart, visEnd := m.sampleBounds(cell)
	m.publish(cell, visStart, visEnd, StatusStale, 0)
}

func (m *CellSolveManager) publishFromCache(cell *cellState, visStart, visEnd int) {
	status := StatusSolving
	if cell.converged {
		status = StatusFresh
	}
	m.publish(cell, visStart, visEnd, status, 0)
}

// publish slices the visible interior out of the cell's cached padded
// buffers and invokes onUpdate.
func (m *CellSolveManager) publish(cell *cellState, visStart, visEnd int, status CellStatus, iteration uint32) {
	offset := visStart - cell.cachedPaddedBounds.PaddedStart
	length := visEnd - visStart
	cell.status = status

	out := CellOutput{
		CellIndex:         cell.cellIndex,
		WindowStartSample: visStart,
		IterationCount:     iteration,
		Status:             status,
		LastErrorMessage:   cell.lastError,
	}
	out.DeconvolvedSlice = sliceOrZero(cell.cachedPaddedSolution, offset, length)
	out.ReconvolutionSlice = sliceOrZero(cell.cachedPaddedReconvolution, offset, length)
	if cell.cachedPaddedFiltered != nil {
		out.FilteredSlice = sliceOrZero(cell.cachedPaddedFiltered, offset, length)
	}

	if m.onUpdate != nil {
		m.onUpdate(out)
	}
}

func sliceOrZero(padded []float32, offset, length int) []float32 {
	if length <= 0 {
		return nil
	}
	if padded == nil || offset < 0 || offset+length > len(padded) {
		return make([]float32, length)
	}
	out := make([]float32, length)
	copy(out, padded[offset:offset+length])
	return out
}
