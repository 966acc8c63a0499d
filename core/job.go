package core

// JobID is a monotonically increasing identifier for a dispatched job.
// Re-dispatching a cell after cancellation always uses a fresh, larger
// JobID, so stale callbacks can be recognized by comparison.
type JobID uint64

// PriorityFunc is evaluated at drain time, not enqueue time, so a job's
// priority tracks the user's live intent (active/hovered > visible >
// off-screen). Lower numbers are higher priority: 0 = active/hovered,
// 1 = visible, 2 = off-screen.
type PriorityFunc func() int

// JobCallbacks routes a job's results back to its originator. Exactly one
// of OnComplete, OnCancelled, or OnError fires per dispatched job;
// OnIntermediate may fire zero or more times beforehand. Callbacks are
// invoked on the pool's result-processing goroutine, except OnCancelled for
// a job that is still queued, which runs synchronously inside Cancel or
// CancelAll on the caller's goroutine — callbacks must not block.
type JobCallbacks struct {
	OnIntermediate func(IntermediateResult)
	OnComplete     func(CompleteResult)
	OnCancelled    func()
	OnError        func(error)
}

// Job is a unit of work dispatched to the worker pool. PaddedTrace and
// WarmState are always freshly-allocated copies owned by the job (see
// pool.go's Dispatch, which copies the caller's buffers rather than
// retaining them).
type Job struct {
	ID            JobID
	PaddedTrace   []float32
	Params        SolverParams
	WarmState     []byte
	WarmStrategy  WarmStartStrategy
	MaxIterations uint32
	Priority      PriorityFunc
	Callbacks     JobCallbacks
}
