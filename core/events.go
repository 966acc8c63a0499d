package core

// Event is one item in the Cell Solve Manager's control loop. There is no
// simulated clock to order events by — real time and channel FIFO order
// are sufficient — so Event here carries only Execute, not a timestamp.
type Event interface {
	Execute(m *CellSolveManager)
}

type selectionChangedEvent struct {
	selected map[int]bool
}

func (e selectionChangedEvent) Execute(m *CellSolveManager) { m.handleSelectionChanged(e.selected) }

type paramChangedEvent struct {
	params SolverParams
}

func (e paramChangedEvent) Execute(m *CellSolveManager) { m.handleParamChanged(e.params) }

type zoomReportedEvent struct {
	cellIndex  int
	startS     float64
	endS       float64
}

func (e zoomReportedEvent) Execute(m *CellSolveManager) {
	m.handleZoomReported(e.cellIndex, e.startS, e.endS)
}

type priorityHintEvent struct {
	cellIndex int
	hint      CellPriorityHint
}

func (e priorityHintEvent) Execute(m *CellSolveManager) { m.handlePriorityHint(e.cellIndex, e.hint) }

type debounceFiredEvent struct {
	cellIndex int
	generation uint64
}

func (e debounceFiredEvent) Execute(m *CellSolveManager) { m.handleDebounceFired(e.cellIndex, e.generation) }

type workerIntermediateEvent struct {
	cellIndex int
	jobID     JobID
	result    IntermediateResult
}

func (e workerIntermediateEvent) Execute(m *CellSolveManager) {
	m.handleWorkerIntermediate(e.cellIndex, e.jobID, e.result)
}

type workerCompleteEvent struct {
	cellIndex int
	jobID     JobID
	result    CompleteResult
}

func (e workerCompleteEvent) Execute(m *CellSolveManager) {
	m.handleWorkerComplete(e.cellIndex, e.jobID, e.result)
}

type workerCancelledEvent struct {
	cellIndex int
	jobID     JobID
}

func (e workerCancelledEvent) Execute(m *CellSolveManager) {
	m.handleWorkerCancelled(e.cellIndex, e.jobID)
}

type workerErrorEvent struct {
	cellIndex int
	jobID     JobID
	err       error
}

func (e workerErrorEvent) Execute(m *CellSolveManager) {
	m.handleWorkerError(e.cellIndex, e.jobID, e.err)
}

type disposeEvent struct {
	done chan struct{}
}

func (e disposeEvent) Execute(m *CellSolveManager) { m.handleDispose(e.done) }
