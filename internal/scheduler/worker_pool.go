package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sellerpulse/backend/internal/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("sellerpulse/scheduler")
	jobMeter           = otel.Meter("sellerpulse/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	workerCount int
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	closeOnce sync.Once
}

// NewWorkerPool creates a pool whose jobs run under parent. jobTimeout of
// zero leaves the deadline to the job itself.
func NewWorkerPool(parent context.Context, workerCount int, jobTimeout time.Duration, queueSize int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &WorkerPool{
		workerCount: workerCount,
		jobTimeout:  jobTimeout,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(id, job)
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job Job) {
	ctx := wp.ctx
	if wp.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.jobTimeout)
		defer cancel()
	}

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.key", job.Key()),
		),
	)
	defer span.End()

	start := time.Now()
	if err := job.Execute(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		jobDuration.Record(ctx, time.Since(start).Seconds())
		logger.Error("Worker %d: %s failed: %v", workerID, job.Description(), err)
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	jobDuration.Record(ctx, time.Since(start).Seconds())
}

// Submit queues a job without blocking. A full queue drops the job.
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case <-wp.ctx.Done():
		return wp.ctx.Err()
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		return fmt.Errorf("job queue full, dropping %s", job.Description())
	}
}

// SubmitBatch queues jobs and returns how many were accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			logger.Warn("Failed to submit %s: %v", job.Description(), err)
			continue
		}
		submitted++
	}
	logger.Info("Submitted %d/%d jobs to worker pool", submitted, len(jobs))
	return submitted
}

// Shutdown stops accepting jobs and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.closeOnce.Do(func() { close(wp.jobs) })
	wp.wg.Wait()
	wp.cancel()
}

// ShutdownWithTimeout is Shutdown with a bound; running jobs are cancelled
// once the timeout passes.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.closeOnce.Do(func() { close(wp.jobs) })

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Worker pool: timeout reached, cancelling running jobs")
		wp.cancel()
		<-done
	}
	wp.cancel()
}

// RunAll runs jobs on a temporary pool and waits for all of them.
func RunAll(ctx context.Context, workers int, jobs []Job) {
	pool := NewWorkerPool(ctx, workers, 0, len(jobs))
	pool.Start()
	pool.SubmitBatch(jobs)
	pool.Shutdown()
}
