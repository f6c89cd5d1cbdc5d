// Package worker runs queued jobs and scheduled maintenance for the background process.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/couponhub/backend/pkg/queue"
)

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Source hands out jobs and takes failed ones back.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Runner dequeues jobs and dispatches them to the processor registered for their type.
type Runner struct {
	src        Source
	processors map[queue.JobType]Processor
	backoff    time.Duration
	logger     *zap.Logger
}

// NewRunner creates a runner over src.
func NewRunner(src Source, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{src: src, processors: map[queue.JobType]Processor{}, backoff: queue.RetryBackoff, logger: logger}
}

// Handle registers p for jobs of type t.
func (r *Runner) Handle(t queue.JobType, p Processor) {
	r.processors[t] = p
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("job runner started", zap.Int("job_types", len(r.processors)))
	for ctx.Err() == nil {
		if err := r.runOnce(ctx); err != nil {
			r.pause(ctx)
		}
	}
	r.logger.Info("job runner stopping")
}

// runOnce handles at most one job. A non-nil error means the caller should back off.
func (r *Runner) runOnce(ctx context.Context) error {
	job, _, err := r.src.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("dequeue error", zap.Error(err))
		}
		return err
	}
	if job == nil {
		return nil
	}

	r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	if err := r.process(ctx, job); err != nil {
		r.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
		if reErr := r.src.Retry(ctx, job); reErr != nil {
			r.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		return err
	}
	return nil
}

func (r *Runner) process(ctx context.Context, job *queue.Job) (err error) {
	p, ok := r.processors[job.Type]
	if !ok {
		return fmt.Errorf("no processor for job type %q", job.Type)
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panic: %v", rec)
		}
	}()
	return p.Process(ctx, job)
}

func (r *Runner) pause(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Expirer moves overdue claims to expired.
type Expirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// RunExpirySweep calls ExpireDue immediately and then every interval until ctx is done.
func RunExpirySweep(ctx context.Context, e Expirer, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		logger.Info("claim expiry sweep disabled")
		return
	}
	sweep := func() {
		if _, err := e.ExpireDue(ctx); err != nil && ctx.Err() == nil {
			logger.Error("claim expiry sweep failed", zap.Error(err))
		}
	}
	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
