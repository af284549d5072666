package async

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// InterruptedMessage is written to documents whose execution was lost
const InterruptedMessage = "processing was interrupted"

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/daemon operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// DocumentSource is the slice of the document store the pool needs to
// recover lost signals and orphaned executions.
type DocumentSource interface {
	PendingIDs(ctx context.Context, limit int) ([]string, error)
	StaleProcessingIDs(ctx context.Context, cutoff time.Time) ([]string, error)
	FailStale(ctx context.Context, id string, cutoff time.Time, message string) (bool, error)
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	MaxConcurrent   int           `json:"max_concurrent"`   // 0 = unbounded
	QueueSize       int           `json:"queue_size"`       // buffered signals
	PollInterval    time.Duration `json:"poll_interval"`    // sweep period, 0 disables the sweep
	SweepBatch      int           `json:"sweep_batch"`      // pending ids re-enqueued per sweep
	StaleAfter      time.Duration `json:"stale_after"`      // processing rows older than this are orphans
	ShutdownTimeout time.Duration `json:"shutdown_timeout"` // how long Stop waits for in-flight runs
	SweepHandler    string        `json:"sweep_handler"`    // handler for swept and recovered ids
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		QueueSize:       DefaultQueueSize,
		PollInterval:    5 * time.Second,
		SweepBatch:      50,
		StaleAfter:      15 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// PoolConfigFromAM converts the pipeline section of the tally config
func PoolConfigFromAM(cfg am.PipelineConfig, handlerName string) WorkerPoolConfig {
	return WorkerPoolConfig{
		MaxConcurrent:   cfg.MaxConcurrent,
		QueueSize:       cfg.QueueSize,
		PollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		SweepBatch:      cfg.SweepBatch,
		StaleAfter:      time.Duration(cfg.StaleAfterSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.ShutdownSeconds) * time.Second,
		SweepHandler:    handlerName,
	}
}

// Stats is a snapshot of the pool for /health and the CLI
type Stats struct {
	Running       bool          `json:"running"`
	Queued        int           `json:"queued"`
	QueueCapacity int           `json:"queue_capacity"`
	InFlight      int           `json:"in_flight"`
	MaxConcurrent int           `json:"max_concurrent"`
	Processed     int64         `json:"processed"`
	Failed        int64         `json:"failed"`
	Skipped       int64         `json:"skipped"`
	Dropped       int64         `json:"dropped"`
	Reaped        int64         `json:"reaped"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Memory        SystemMetrics `json:"memory"`
}

// WorkerPool receives job signals and runs each on its own goroutine.
//
// At most one execution per document id runs in this process at a time;
// a signal for an id already in flight is skipped. Across processes the
// handler's claim is the only guard.
type WorkerPool struct {
	queue      *Queue
	source     DocumentSource
	registry   *HandlerRegistry
	executor   JobExecutor
	poolConfig WorkerPoolConfig
	sem        *semaphore.Weighted // nil when unbounded

	parentCtx context.Context
	ctx       context.Context // dispatch loops
	cancel    context.CancelFunc
	execCtx   context.Context // running handlers, outlives ctx until Stop times out
	execStop  context.CancelFunc
	loops     sync.WaitGroup
	runs      sync.WaitGroup

	mu        sync.Mutex
	inFlight  map[string]struct{}
	running   bool
	startTime time.Time

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	reaped    atomic.Int64

	now    func() time.Time
	logger pulseLogger
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
//
// source may be nil, which disables the sweep and orphan recovery.
func NewWorkerPool(ctx context.Context, source DocumentSource, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if poolCfg.SweepBatch <= 0 {
		poolCfg.SweepBatch = DefaultWorkerPoolConfig().SweepBatch
	}
	if poolCfg.ShutdownTimeout <= 0 {
		poolCfg.ShutdownTimeout = DefaultWorkerPoolConfig().ShutdownTimeout
	}

	registry := NewHandlerRegistry()
	wp := &WorkerPool{
		queue:      NewQueue(poolCfg.QueueSize),
		source:     source,
		registry:   registry,
		executor:   NewRegistryExecutor(registry),
		poolConfig: poolCfg,
		parentCtx:  ctx,
		inFlight:   make(map[string]struct{}),
		now:        time.Now,
		logger:     pulseLogger{log.Named("pulse")},
	}
	if poolCfg.MaxConcurrent > 0 {
		wp.sem = semaphore.NewWeighted(int64(poolCfg.MaxConcurrent))
	}
	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.execCtx, wp.execStop = context.WithCancel(context.WithoutCancel(ctx))
	return wp
}

// Registry returns the handler registry for registering handlers
func (wp *WorkerPool) Registry() *HandlerRegistry {
	return wp.registry
}

// Queue returns the signal queue
func (wp *WorkerPool) Queue() *Queue {
	return wp.queue
}

// Submit enqueues documentID for the sweep handler. It never blocks; false
// means the signal was dropped and the sweep will retry it.
func (wp *WorkerPool) Submit(documentID, source string) bool {
	job, err := NewJob(wp.poolConfig.SweepHandler, documentID, source)
	if err != nil {
		wp.logger.Warnw("Rejected job signal", logger.FieldDocumentID, documentID, logger.FieldError, err)
		return false
	}
	if !wp.queue.Enqueue(job) {
		wp.logger.Warnw("Queue full, signal dropped until next sweep",
			logger.FieldDocumentID, documentID,
			"queue_capacity", wp.queue.Cap(),
		)
		return false
	}
	return true
}

// Start begins dispatching.
// ✿ Opening: fail orphaned executions, then dispatch and sweep.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	if wp.running {
		wp.mu.Unlock()
		return
	}

	// Recreate contexts after a previous Stop
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated dispatch context after previous shutdown")
	default:
	}
	select {
	case <-wp.execCtx.Done():
		wp.execCtx, wp.execStop = context.WithCancel(context.WithoutCancel(wp.parentCtx))
	default:
	}

	wp.running = true
	wp.startTime = wp.now()
	ctx := wp.ctx
	wp.mu.Unlock()

	// Nothing of this process can be running yet, so every processing row
	// not in flight is an orphan regardless of age.
	if n, err := wp.reapStale(ctx, wp.now()); err != nil {
		wp.logger.Warnw("Failed to recover orphaned documents", logger.FieldError, err)
	} else if n > 0 {
		wp.logger.Starting("Recovered orphaned documents", logger.FieldCount, n)
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		if wp.poolConfig.MaxConcurrent == 0 {
			wp.logger.Infow("Concurrency is unbounded", "note", warning)
		} else {
			wp.logger.Warnw("Memory pressure warning", "warning", warning, "max_concurrent", wp.poolConfig.MaxConcurrent)
		}
	}

	wp.loops.Add(1)
	go wp.dispatchLoop(ctx)

	if wp.source != nil && wp.poolConfig.PollInterval > 0 {
		wp.loops.Add(1)
		go wp.sweepLoop(ctx)
	}

	wp.logger.Starting("WorkerPool started",
		"max_concurrent", wp.poolConfig.MaxConcurrent,
		"poll_interval", wp.poolConfig.PollInterval,
		"handlers", wp.registry.Names(),
	)
}

// Stop cancels dispatch and waits for in-flight executions up to the
// configured shutdown timeout. Executions still running after that have
// their context cancelled; their documents stay processing until the next
// Start recovers them.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	cancel, execStop := wp.cancel, wp.execStop
	wp.mu.Unlock()

	cancel()
	wp.loops.Wait()

	done := make(chan struct{})
	go func() {
		wp.runs.Wait()
		close(done)
	}()

	timeout := wp.poolConfig.ShutdownTimeout
	select {
	case <-done:
		wp.logger.Pulse("❀ WorkerPool.Stop() complete - all executions finished")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - cancelling in-flight executions",
			"timeout", timeout,
			"in_flight", wp.InFlight(),
		)
		execStop()
	}
}

// dispatchLoop receives signals until ctx is cancelled
func (wp *WorkerPool) dispatchLoop(ctx context.Context) {
	defer wp.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-wp.queue.jobs():
			wp.dispatch(ctx, job)
		}
	}
}

// dispatch marks the job's document in flight, waits for a slot and starts
// the execution. While all slots are taken the loop blocks here and new
// signals accumulate in (or overflow) the queue.
func (wp *WorkerPool) dispatch(ctx context.Context, job *Job) {
	if !wp.markInFlight(job.DocumentID) {
		wp.skipped.Add(1)
		wp.logger.Debugw("Document already in flight, signal skipped",
			logger.FieldDocumentID, job.DocumentID,
			"source", job.Source,
		)
		return
	}

	if wp.sem != nil {
		if err := wp.sem.Acquire(ctx, 1); err != nil {
			// Shutting down; the document is still pending
			wp.clearInFlight(job.DocumentID)
			return
		}
	}

	wp.mu.Lock()
	execCtx := wp.execCtx
	wp.mu.Unlock()

	wp.runs.Add(1)
	go wp.execute(execCtx, job)
}

func (wp *WorkerPool) execute(ctx context.Context, job *Job) {
	defer wp.runs.Done()
	defer wp.clearInFlight(job.DocumentID)
	if wp.sem != nil {
		defer wp.sem.Release(1)
	}

	log := wp.logger.With(logger.FieldDocumentID, job.DocumentID, "handler", job.HandlerName)
	start := wp.now()

	defer func() {
		if r := recover(); r != nil {
			wp.failed.Add(1)
			log.Errorw("Handler panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	err := wp.executor.Execute(logger.WithDocumentID(ctx, job.DocumentID), job)
	duration := wp.now().Sub(start)
	if err != nil {
		wp.failed.Add(1)
		log.Warnw("Execution failed",
			logger.FieldError, err,
			logger.FieldDurationMS, duration.Milliseconds(),
			"source", job.Source,
		)
		return
	}
	wp.processed.Add(1)
	log.Debugw("Execution finished",
		logger.FieldDurationMS, duration.Milliseconds(),
		"queued_ms", job.Age(start).Milliseconds(),
	)
}

// sweepLoop re-enqueues pending documents and fails stale ones every
// PollInterval, starting immediately.
func (wp *WorkerPool) sweepLoop(ctx context.Context) {
	defer wp.loops.Done()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	for {
		wp.sweepOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) sweepOnce(ctx context.Context) {
	if _, err := wp.sweepPending(ctx); err != nil && ctx.Err() == nil {
		wp.logger.Warnw("Pending sweep failed", logger.FieldError, err)
	}
	if wp.poolConfig.StaleAfter > 0 {
		cutoff := wp.now().Add(-wp.poolConfig.StaleAfter)
		n, err := wp.reapStale(ctx, cutoff)
		if err != nil && ctx.Err() == nil {
			wp.logger.Warnw("Stale sweep failed", logger.FieldError, err)
		} else if n > 0 {
			wp.logger.Pulse("Failed stale documents", logger.FieldCount, n, "stale_after", wp.poolConfig.StaleAfter)
		}
	}
}

// sweepPending enqueues pending ids not already in flight and reports how
// many signals were accepted.
func (wp *WorkerPool) sweepPending(ctx context.Context) (int, error) {
	if wp.source == nil {
		return 0, nil
	}
	ids, err := wp.source.PendingIDs(ctx, wp.poolConfig.SweepBatch)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list pending documents")
	}

	accepted := 0
	for _, id := range ids {
		if wp.isInFlight(id) {
			continue
		}
		job, err := NewJob(wp.poolConfig.SweepHandler, id, SourceSweep)
		if err != nil {
			return accepted, err
		}
		if !wp.queue.Enqueue(job) {
			// Full; the next sweep continues from the oldest
			break
		}
		accepted++
	}
	return accepted, nil
}

// reapStale moves processing documents untouched since cutoff and not in
// flight here to error. FailStale re-checks the cutoff, so an execution that
// finished between the listing and the update is left alone.
func (wp *WorkerPool) reapStale(ctx context.Context, cutoff time.Time) (int, error) {
	if wp.source == nil {
		return 0, nil
	}
	ids, err := wp.source.StaleProcessingIDs(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list stale documents")
	}

	reaped := 0
	for _, id := range ids {
		if wp.isInFlight(id) {
			continue
		}
		ok, err := wp.source.FailStale(ctx, id, cutoff, InterruptedMessage)
		if err != nil {
			return reaped, err
		}
		if ok {
			reaped++
			wp.reaped.Add(1)
			wp.logger.Warnw("Document processing was interrupted", logger.FieldDocumentID, id)
		}
	}
	return reaped, nil
}

func (wp *WorkerPool) markInFlight(id string) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if _, ok := wp.inFlight[id]; ok {
		return false
	}
	wp.inFlight[id] = struct{}{}
	return true
}

func (wp *WorkerPool) clearInFlight(id string) {
	wp.mu.Lock()
	delete(wp.inFlight, id)
	wp.mu.Unlock()
}

func (wp *WorkerPool) isInFlight(id string) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	_, ok := wp.inFlight[id]
	return ok
}

// InFlight returns the number of documents currently held by the pool,
// including those waiting for a concurrency slot.
func (wp *WorkerPool) InFlight() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.inFlight)
}

// Stats returns a snapshot of pool counters and host memory
func (wp *WorkerPool) Stats() Stats {
	wp.mu.Lock()
	running := wp.running
	inFlight := len(wp.inFlight)
	var uptime float64
	if running {
		uptime = wp.now().Sub(wp.startTime).Seconds()
	}
	wp.mu.Unlock()

	return Stats{
		Running:       running,
		Queued:        wp.queue.Len(),
		QueueCapacity: wp.queue.Cap(),
		InFlight:      inFlight,
		MaxConcurrent: wp.poolConfig.MaxConcurrent,
		Processed:     wp.processed.Load(),
		Failed:        wp.failed.Load(),
		Skipped:       wp.skipped.Load(),
		Dropped:       wp.queue.Dropped(),
		Reaped:        wp.reaped.Load(),
		UptimeSeconds: uptime,
		Memory:        ReadSystemMetrics(),
	}
}
