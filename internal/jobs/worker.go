package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/footfall.report/internal/monitoring"
	"github.com/banshee-data/footfall.report/internal/timeutil"
)

// Worker polls a Queue and runs claimed jobs through a Registry.
type Worker struct {
	ID           string
	Queue        Queue
	Registry     *Registry
	PollInterval time.Duration
	LockTimeout  time.Duration
	Clock        timeutil.Clock
	Log          *monitoring.Logger
}

// NewWorker returns a worker with a real clock. An empty id gets a random one.
func NewWorker(id string, q Queue, reg *Registry, pollInterval, lockTimeout time.Duration, log *monitoring.Logger) *Worker {
	if id == "" {
		id = "worker-" + uuid.NewString()
	}
	if log == nil {
		log = monitoring.Nop()
	}
	return &Worker{
		ID:           id,
		Queue:        q,
		Registry:     reg,
		PollInterval: pollInterval,
		LockTimeout:  lockTimeout,
		Clock:        timeutil.RealClock{},
		Log:          log.With("component", "JobWorker", "worker_id", id),
	}
}

// Run polls until ctx is cancelled. Cancellation stops polling only; a job
// already claimed runs to completion and is marked before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.Log.Info("worker started", "poll_interval", w.PollInterval.String(), "lock_timeout", w.LockTimeout.String())
	defer w.Log.Info("worker stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		worked, err := w.RunOnce(ctx)
		if err != nil {
			w.Log.Warn("worker iteration failed", "error", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock().After(w.PollInterval):
		}
	}
}

// RunOnce claims at most one job and runs it. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.Queue.Claim(ctx, w.ID, w.LockTimeout)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.process(context.WithoutCancel(ctx), job)
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	log := w.Log.With("job_id", job.ID, "job_type", string(job.Type), "attempt", job.Attempts, "run_id", uuid.NewString())
	start := w.clock().Now()

	h, ok := w.Registry.Get(job.Type)
	if !ok {
		err := &missingHandlerError{JobType: job.Type}
		log.Warn("no handler registered", "error", err)
		return w.fail(ctx, job, err)
	}

	log.Info("job started")
	if err := w.dispatch(ctx, h, job, log); err != nil {
		log.Warn("job failed", "error", err, "duration", w.clock().Since(start).String())
		return w.fail(ctx, job, err)
	}
	if err := w.Queue.MarkDone(ctx, job); err != nil {
		return fmt.Errorf("mark job %d done: %w", job.ID, err)
	}
	log.Info("job done", "duration", w.clock().Since(start).String())
	return nil
}

func (w *Worker) dispatch(ctx context.Context, h Handler, job *Job, log *monitoring.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panic", "panic", r)
			err = &panicError{Val: r}
		}
	}()
	return h.Run(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) error {
	if err := w.Queue.MarkFailed(ctx, job, cause.Error()); err != nil {
		return fmt.Errorf("mark job %d failed: %w", job.ID, err)
	}
	return nil
}

func (w *Worker) clock() timeutil.Clock {
	if w.Clock == nil {
		return timeutil.RealClock{}
	}
	return w.Clock
}

type missingHandlerError struct{ JobType Type }

func (e *missingHandlerError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownType, e.JobType)
}

func (e *missingHandlerError) Unwrap() error { return ErrUnknownType }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var p *panicError
	return errors.As(err, &p)
}
