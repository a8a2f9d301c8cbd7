package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/robert-malhotra/s1-insar/internal/pipeline"
)

// Processor executes one run. *pipeline.Pipeline satisfies it.
type Processor interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Queue accepts job submissions and executes them one at a time. Each job
// gets its own working directory under the work root.
type Queue struct {
	store    Store
	proc     Processor
	workRoot string
	pending  chan string
	logger   *slog.Logger
	now      func() time.Time
}

// NewQueue creates a queue holding at most size pending jobs.
func NewQueue(store Store, proc Processor, workRoot string, size int) *Queue {
	return &Queue{
		store:    store,
		proc:     proc,
		workRoot: workRoot,
		pending:  make(chan string, size),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithLogger sets a custom logger.
func (q *Queue) WithLogger(logger *slog.Logger) *Queue {
	q.logger = logger
	return q
}

// Submit validates req, stores a queued job and schedules it.
func (q *Queue) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		State:     pipeline.Init.String(),
		Request:   req,
		WorkDir:   filepath.Join(q.workRoot, id),
		CreatedAt: q.now(),
	}
	if err := q.store.Create(ctx, job); err != nil {
		return nil, err
	}

	select {
	case q.pending <- id:
	default:
		finished := q.now()
		job.Status = StatusFailed
		job.Error = ErrQueueFull.Error()
		job.FinishedAt = &finished
		if err := q.store.Update(ctx, job); err != nil {
			q.logger.Error("failed to record rejected job", slog.String("job_id", id), slog.String("error", err.Error()))
		}
		return nil, ErrQueueFull
	}

	q.logger.Info("job queued", slog.String("job_id", id), slog.String("reference", req.Reference), slog.String("secondary", req.Secondary))
	return job, nil
}

// Run executes queued jobs until ctx is cancelled. A job interrupted by
// cancellation is recorded as failed, as is every job still waiting.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.abandonPending(context.WithoutCancel(ctx))
			return
		case id := <-q.pending:
			if ctx.Err() != nil {
				q.abandon(context.WithoutCancel(ctx), id)
				q.abandonPending(context.WithoutCancel(ctx))
				return
			}
			q.process(ctx, id)
		}
	}
}

func (q *Queue) abandonPending(ctx context.Context) {
	for {
		select {
		case id := <-q.pending:
			q.abandon(ctx, id)
		default:
			return
		}
	}
}

func (q *Queue) abandon(ctx context.Context, id string) {
	job, err := q.store.Get(ctx, id)
	if err != nil {
		q.logger.Error("failed to load abandoned job", slog.String("job_id", id), slog.String("error", err.Error()))
		return
	}
	q.markInterrupted(ctx, job)
}

// Recover fails every job left queued or running by a previous process.
// It must be called before Run.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	all, err := q.store.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	n := 0
	for _, job := range all {
		if job.Status.Finished() {
			continue
		}
		q.markInterrupted(ctx, job)
		n++
	}
	return n, nil
}

func (q *Queue) markInterrupted(ctx context.Context, job *Job) {
	finished := q.now()
	job.Status = StatusFailed
	job.Error = ErrInterrupted.Error()
	job.FailedState = job.State
	job.State = pipeline.Failed.String()
	job.FinishedAt = &finished
	logger := q.logger.With(slog.String("job_id", job.ID))
	logger.Warn("job interrupted", slog.String("failed_state", job.FailedState))
	q.save(ctx, logger, job)
}

func (q *Queue) process(ctx context.Context, id string) {
	logger := q.logger.With(slog.String("job_id", id))

	job, err := q.store.Get(ctx, id)
	if err != nil {
		logger.Error("failed to load job", slog.String("error", err.Error()))
		return
	}

	started := q.now()
	job.Status = StatusRunning
	job.StartedAt = &started
	q.save(ctx, logger, job)

	result, err := q.execute(ctx, job)

	finished := q.now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		if state, ok := pipeline.FailedState(err); ok {
			job.FailedState = state.String()
		}
		job.State = pipeline.Failed.String()
		logger.Error("job failed", slog.String("failed_state", job.FailedState), slog.String("error", err.Error()))
	} else {
		job.Status = StatusSucceeded
		job.State = result.State.String()
		job.DEMSource = result.DEMSource
		offset := result.Offset.Offset
		job.Offset = &offset
		if result.Product != nil {
			job.Product = result.Product.Paths()
		}
		logger.Info("job succeeded", slog.Duration("duration", finished.Sub(started)))
	}

	// The job outcome must be recorded even when shutdown cancelled the run.
	q.save(context.WithoutCancel(ctx), logger, job)
}

func (q *Queue) execute(ctx context.Context, job *Job) (*pipeline.Result, error) {
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}
	for _, src := range []string{job.Request.Reference, job.Request.Secondary} {
		if err := linkInto(job.WorkDir, src); err != nil {
			return nil, err
		}
	}

	opts, err := job.Request.Options(job.WorkDir)
	if err != nil {
		return nil, err
	}
	logger := q.logger.With(slog.String("job_id", job.ID))
	opts.Observer = func(ev pipeline.Event) {
		if ev.To == pipeline.Failed {
			return
		}
		job.State = ev.To.String()
		q.save(ctx, logger, job)
	}

	return q.proc.Run(ctx, opts)
}

func (q *Queue) save(ctx context.Context, logger *slog.Logger, job *Job) {
	if err := q.store.Update(ctx, job); err != nil {
		logger.Error("failed to update job", slog.String("error", err.Error()))
	}
}

// linkInto makes the acquisition at src visible in dir under its base name.
func linkInto(dir, src string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("acquisition not accessible: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Symlink(src, dst); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to link acquisition: %w", err)
	}
	return nil
}
