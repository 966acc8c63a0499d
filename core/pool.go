package core

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// workerState mirrors a worker's Init -> Idle -> Busy{job_id} -> Idle
// lifecycle.
type workerState int

const (
	workerInit workerState = iota
	workerIdle
	workerBusy
)

type resultKind int

const (
	resultIntermediate resultKind = iota
	resultComplete
	resultCancelled
	resultError
	resultFatal
)

type workerResult struct {
	jobID        JobID
	kind         resultKind
	intermediate IntermediateResult
	complete     CompleteResult
	err          error
}

// worker owns one solverKernel instance and runs it on a dedicated
// goroutine, reading solve jobs off jobCh and reporting results on the
// pool's shared resultCh. Grounded on the corpus's dedicated
// goroutine-per-worker-with-typed-operation-channel pattern (see
// DESIGN.md: qubicdb's BrainWorker).
type worker struct {
	id         int
	solver     *solverKernel
	jobCh      chan *Job
	resultCh   chan<- workerResult
	cancelFlag atomic.Bool
	currentJob atomic.Uint64 // 0 means no job assigned
	cfg        ResolvedConfig
}

func newWorker(id int, resultCh chan<- workerResult, cfg ResolvedConfig) *worker {
	return &worker{
		id:       id,
		solver:   newSolverKernel(),
		jobCh:    make(chan *Job, 1),
		resultCh: resultCh,
		cfg:      cfg,
	}
}

// cancelFlagSignal adapts a worker's atomic cancel flag to the solver's
// CancelSignal interface.
type cancelFlagSignal struct{ flag *atomic.Bool }

func (c cancelFlagSignal) Cancelled() bool { return c.flag.Load() }

// Cancel requests cancellation of jobID if it is currently running on this
// worker. A no-op if the worker has since moved on to a different job.
func (w *worker) Cancel(jobID JobID) {
	if w.currentJob.Load() == uint64(jobID) {
		w.cancelFlag.Store(true)
	}
}

// run is the worker's goroutine body: pull one job at a time and execute
// it, reporting exactly one terminal result (complete/cancelled/error) per
// job, plus zero or more intermediate results beforehand. A panic inside
// the solver is recovered and reported as a fatal result so the pool can
// replace this worker without losing any other worker's state.
func (w *worker) run() {
	for job := range w.jobCh {
		w.runJob(job)
	}
}

func (w *worker) runJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			w.currentJob.Store(0)
			w.resultCh <- workerResult{jobID: job.ID, kind: resultFatal, err: fmt.Errorf("worker panic: %v", r)}
		}
	}()

	w.cancelFlag.Store(false)
	w.currentJob.Store(uint64(job.ID))

	onIntermediate := func(ir IntermediateResult) {
		w.resultCh <- workerResult{jobID: job.ID, kind: resultIntermediate, intermediate: ir}
	}

	result, err := w.solver.Solve(
		job.PaddedTrace,
		job.Params,
		job.WarmState,
		job.WarmStrategy,
		job.MaxIterations,
		w.cfg.BatchSize,
		w.cfg.ConvergenceTolerance,
		cancelFlagSignal{&w.cancelFlag},
		onIntermediate,
	)

	w.currentJob.Store(0)

	switch {
	case err == errCancelled:
		w.resultCh <- workerResult{jobID: job.ID, kind: resultCancelled}
	case err != nil:
		w.resultCh <- workerResult{jobID: job.ID, kind: resultError, err: err}
	default:
		w.resultCh <- workerResult{jobID: job.ID, kind: resultComplete, complete: result}
	}
}

// WorkerPool owns N worker goroutines, each wrapping one solver kernel
// instance, and drains a priority-ordered queue of pending jobs onto idle
// workers.
type WorkerPool struct {
	mu        sync.Mutex
	cfg       ResolvedConfig
	workers   []*worker
	state     []workerState
	queue     []*Job
	callbacks map[JobID]JobCallbacks
	busyOf    map[JobID]int // job id -> worker index
	resultCh  chan workerResult
	disposed  bool
	metrics   *Metrics
}

// NewWorkerPool creates a pool of n workers, each with its own Solver
// Kernel instance, and starts their goroutines plus the pool's internal
// result-processing loop.
func NewWorkerPool(n int, cfg ResolvedConfig, metrics *Metrics) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		cfg:       cfg,
		callbacks: make(map[JobID]JobCallbacks),
		busyOf:    make(map[JobID]int),
		resultCh:  make(chan workerResult, 64),
		metrics:   metrics,
	}
	for i := 0; i < n; i++ {
		p.spawnWorkerLocked(i)
	}
	go p.resultLoop()
	return p
}

func (p *WorkerPool) spawnWorkerLocked(id int) {
	w := newWorker(id, p.resultCh, p.cfg)
	if id < len(p.workers) {
		p.workers[id] = w
		p.state[id] = workerInit
	} else {
		p.workers = append(p.workers, w)
		p.state = append(p.state, workerInit)
	}
	go w.run()
	// The worker signals readiness the instant its goroutine starts
	// pulling from jobCh; there is no separate handshake, so the pool
	// treats it as Idle immediately.
	p.state[id] = workerIdle
}

// Resize grows or shrinks the pool to n workers. Shrinking only retires
// idle workers; a busy worker finishes its current job before the pool
// drops below n on later resizes.
func (p *WorkerPool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.workers) < n {
		p.spawnWorkerLocked(len(p.workers))
	}
	for len(p.workers) > n {
		last := len(p.workers) - 1
		if p.state[last] != workerIdle {
			break // don't interrupt busy workers; resize takes effect gradually
		}
		close(p.workers[last].jobCh)
		p.workers = p.workers[:last]
		p.state = p.state[:last]
	}
}

// Dispatch enqueues job and attempts to drain the queue onto idle workers.
// The trace and warm-state buffers are copied into freshly-allocated
// storage owned by the job before it is queued — the caller's buffers are
// not retained.
func (p *WorkerPool) Dispatch(job *Job) {
	trace := append([]float32(nil), job.PaddedTrace...)
	var warm []byte
	if job.WarmState != nil {
		warm = append([]byte(nil), job.WarmState...)
	}
	owned := &Job{
		ID:            job.ID,
		PaddedTrace:   trace,
		Params:        job.Params,
		WarmState:     warm,
		WarmStrategy:  job.WarmStrategy,
		MaxIterations: job.MaxIterations,
		Priority:      job.Priority,
		Callbacks:     job.Callbacks,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.queue = append(p.queue, owned)
	p.callbacks[owned.ID] = owned.Callbacks
	if p.metrics != nil {
		p.metrics.JobsDispatched++
	}
	p.drainLocked()
}

// drainLocked sorts the pending queue by current dynamic priority (stable,
// ties broken by JobID ascending for determinism) and assigns jobs to idle
// workers until either runs out.
func (p *WorkerPool) drainLocked() {
	for {
		widx := p.firstIdleLocked()
		if widx < 0 || len(p.queue) == 0 {
			return
		}
		sort.SliceStable(p.queue, func(i, j int) bool {
			pi, pj := p.queue[i].Priority(), p.queue[j].Priority()
			if pi != pj {
				return pi < pj
			}
			return p.queue[i].ID < p.queue[j].ID
		})
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.state[widx] = workerBusy
		p.busyOf[job.ID] = widx
		// Record the job as assigned to this worker before handing it over.
		w := p.workers[widx]
		w.cancelFlag.Store(false)
		w.currentJob.Store(uint64(job.ID))
		w.jobCh <- job
	}
}

func (p *WorkerPool) firstIdleLocked() int {
	for i, s := range p.state {
		if s == workerIdle {
			return i
		}
	}
	return -1
}

// Cancel requests cancellation of jobID. If the job is still queued it is
// removed immediately and OnCancelled fires synchronously. If it is
// running, a cancel signal is sent to the owning worker; OnCancelled fires
// asynchronously once the worker observes the signal.
func (p *WorkerPool) Cancel(jobID JobID) {
	p.mu.Lock()
	for i, j := range p.queue {
		if j.ID == jobID {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			cb := p.callbacks[jobID]
			delete(p.callbacks, jobID)
			p.mu.Unlock()
			if cb.OnCancelled != nil {
				cb.OnCancelled()
			}
			return
		}
	}
	widx, busy := p.busyOf[jobID]
	p.mu.Unlock()
	if busy {
		p.workers[widx].Cancel(jobID)
	}
}

// CancelAll empties the queue (each removed job's OnCancelled fires) and
// signals cancellation to every busy worker.
func (p *WorkerPool) CancelAll() {
	p.mu.Lock()
	queued := p.queue
	p.queue = nil
	cbs := make([]JobCallbacks, 0, len(queued))
	for _, j := range queued {
		cbs = append(cbs, p.callbacks[j.ID])
		delete(p.callbacks, j.ID)
	}
	busyJobs := make([]JobID, 0, len(p.busyOf))
	busyWorkers := make([]int, 0, len(p.busyOf))
	for jobID, widx := range p.busyOf {
		busyJobs = append(busyJobs, jobID)
		busyWorkers = append(busyWorkers, widx)
	}
	p.mu.Unlock()

	for _, cb := range cbs {
		if cb.OnCancelled != nil {
			cb.OnCancelled()
		}
	}
	for i, jobID := range busyJobs {
		p.workers[busyWorkers[i]].Cancel(jobID)
	}
}

// Dispose cancels all pending and in-flight work and stops every worker
// goroutine. The pool must not be used after Dispose returns.
func (p *WorkerPool) Dispose() {
	p.CancelAll()
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	for _, w := range p.workers {
		close(w.jobCh)
	}
	p.mu.Unlock()
}

// resultLoop is the pool's single internal goroutine: it serializes every
// worker-to-pool message, routes it to the originating job's callbacks,
// and re-drains the queue after any worker frees up. Callback closures
// are expected to hand off to the Cell Solve Manager's own
// single-goroutine event loop rather than mutate shared state directly
// (see manager.go, events.go).
func (p *WorkerPool) resultLoop() {
	for res := range p.resultCh {
		p.handleResult(res)
	}
}

func (p *WorkerPool) handleResult(res workerResult) {
	p.mu.Lock()
	cb, ok := p.callbacks[res.jobID]
	p.mu.Unlock()
	if !ok {
		// Stale message for a job the pool no longer tracks (already
		// cancelled/completed); drop silently.
		return
	}

	switch res.kind {
	case resultIntermediate:
		if cb.OnIntermediate != nil {
			cb.OnIntermediate(res.intermediate)
		}
		return
	case resultComplete:
		p.finish(res.jobID)
		if p.metrics != nil {
			p.metrics.recordComplete(res.complete)
		}
		if cb.OnComplete != nil {
			cb.OnComplete(res.complete)
		}
	case resultCancelled:
		p.finish(res.jobID)
		if p.metrics != nil {
			p.metrics.JobsCancelled++
		}
		if cb.OnCancelled != nil {
			cb.OnCancelled()
		}
	case resultError:
		p.finish(res.jobID)
		if p.metrics != nil {
			p.metrics.JobsErrored++
		}
		if cb.OnError != nil {
			cb.OnError(res.err)
		}
	case resultFatal:
		widx := p.finish(res.jobID)
		if widx >= 0 {
			logrus.Warnf("worker %d panicked, replacing: %v", widx, res.err)
			p.mu.Lock()
			p.spawnWorkerLocked(widx)
			p.mu.Unlock()
		}
		if p.metrics != nil {
			p.metrics.WorkersReplaced++
		}
		if cb.OnError != nil {
			cb.OnError(res.err)
		}
	}

	p.mu.Lock()
	p.drainLocked()
	p.mu.Unlock()
}

// finish marks the job's worker idle again and releases its bookkeeping,
// returning the worker index (or -1 if the job was not tracked as busy).
func (p *WorkerPool) finish(jobID JobID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.callbacks, jobID)
	widx, ok := p.busyOf[jobID]
	if !ok {
		return -1
	}
	delete(p.busyOf, jobID)
	if widx < len(p.state) {
		p.state[widx] = workerIdle
	}
	return widx
}
