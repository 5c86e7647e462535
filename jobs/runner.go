// Package jobs runs exam parses in the background. A job feeds stored
// fragments through the state machine one at a time, storing each question
// as soon as it is finalized together with the order index a restarted
// machine would resume from. A job can be paused or cancelled between any
// two fragments and resumed later, also by another process.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/brunobiangulo/examparse"
	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/statemachine"
	"github.com/brunobiangulo/examparse/store"
	"github.com/brunobiangulo/examparse/validate"
)

var (
	errPauseRequested  = errors.New("jobs: pause requested")
	errCancelRequested = errors.New("jobs: cancel requested")
)

// CompletionFunc is called after a job finishes successfully.
type CompletionFunc func(job *store.Job, res *examparse.Result)

// Option configures a Runner.
type Option func(*Runner)

// WithCompletionHook registers fn to run after every completed job.
func WithCompletionHook(fn CompletionFunc) Option {
	return func(r *Runner) { r.onComplete = fn }
}

// Runner owns the background goroutines of running jobs.
type Runner struct {
	engine     examparse.Engine
	store      *store.Store
	attr       attribution.Config
	onComplete CompletionFunc

	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*running
	wg      sync.WaitGroup
}

type running struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// New returns a runner that parses through e.
func New(e examparse.Engine, opts ...Option) *Runner {
	cfg := e.Config()
	base, cancel := context.WithCancel(context.Background())
	r := &Runner{
		engine:  e,
		store:   e.Store(),
		attr:    cfg.Attribution(),
		base:    base,
		cancel:  cancel,
		running: make(map[string]*running),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates a job for the document at path and runs it in the
// background.
func (r *Runner) Start(ctx context.Context, path string, opts ...examparse.ParseOption) (*store.Job, error) {
	job := store.Job{ID: uuid.NewString(), Source: path, Status: store.JobPending}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	slog.Info("jobs: started", "job", job.ID, "source", path)
	r.launch(&job, opts)
	return r.Status(ctx, job.ID)
}

// Resume restarts a paused job from its checkpoint. The status check and
// the registration of the run happen under one lock, so a job resumes at
// most once.
func (r *Runner) Resume(ctx context.Context, id string) (*store.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := r.running[id]; ok || job.Status != store.JobPaused {
		return nil, fmt.Errorf("%w: job %s is %s", examparse.ErrJobNotResumable, id, job.Status)
	}
	slog.Info("jobs: resuming", "job", id, "checkpoint", job.Checkpoint)
	r.launchLocked(job, nil)
	return job, nil
}

// Recover pauses and resumes jobs left processing by a previous process.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	jobs, err := r.store.ListJobs(ctx, store.JobProcessing)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range jobs {
		job := &jobs[i]
		if r.isRunning(job.ID) {
			continue
		}
		if err := r.store.UpdateJobStatus(ctx, job.ID, store.JobPaused, ""); err != nil {
			return n, err
		}
		if _, err := r.Resume(ctx, job.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Pause asks a running job to stop at the next fragment boundary.
func (r *Runner) Pause(ctx context.Context, id string) error {
	if _, err := r.Status(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	run, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: job %s is not running", examparse.ErrJobNotResumable, id)
	}
	run.cancel(errPauseRequested)
	return nil
}

// Cancel stops a job for good. Questions stored so far are kept.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	job, err := r.Status(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	run, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		run.cancel(errCancelRequested)
		return nil
	}
	switch job.Status {
	case store.JobPending, store.JobPaused:
		return r.store.UpdateJobStatus(ctx, id, store.JobCancelled, "")
	default:
		return fmt.Errorf("%w: job %s is %s", examparse.ErrJobNotResumable, id, job.Status)
	}
}

// Status returns the stored state of a job.
func (r *Runner) Status(ctx context.Context, id string) (*store.Job, error) {
	job, err := r.store.GetJob(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", examparse.ErrJobNotFound, id)
	}
	return job, err
}

// List returns stored jobs with the given status, or all jobs.
func (r *Runner) List(ctx context.Context, status string) ([]store.Job, error) {
	return r.store.ListJobs(ctx, status)
}

// Wait blocks until the job stops running or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) error {
	r.mu.Lock()
	run, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close pauses every running job and waits for them to record their
// checkpoints.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) isRunning(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

func (r *Runner) launch(job *store.Job, opts []examparse.ParseOption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launchLocked(job, opts)
}

// launchLocked registers and starts a run. r.mu must be held.
func (r *Runner) launchLocked(job *store.Job, opts []examparse.ParseOption) {
	ctx, cancel := context.WithCancelCause(r.base)
	run := &running{cancel: cancel, done: make(chan struct{})}
	r.running[job.ID] = run

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
			cancel(nil)
			close(run.done)
		}()
		r.run(ctx, job, opts)
	}()
}

// run drives one job to completion, suspension or failure. Store writes use
// a context detached from cancellation so a stopping job still records
// where it stopped.
func (r *Runner) run(ctx context.Context, job *store.Job, opts []examparse.ParseOption) {
	bg := context.WithoutCancel(ctx)
	if err := r.store.UpdateJobStatus(bg, job.ID, store.JobProcessing, ""); err != nil {
		slog.Error("jobs: updating status", "job", job.ID, "error", err)
		return
	}

	if job.ExamID == 0 {
		prepared, err := r.engine.Prepare(ctx, job.Source, opts...)
		if err != nil {
			if ctx.Err() != nil {
				r.stop(bg, job, job.Checkpoint, context.Cause(ctx))
				return
			}
			r.fail(bg, job, err)
			return
		}
		job.ExamID = prepared.ExamID
		job.TotalFragments = len(prepared.Blocks)
		if err := r.store.SetJobExam(bg, job.ID, job.ExamID, job.TotalFragments); err != nil {
			r.fail(bg, job, err)
			return
		}
	}

	checkpoint, done, err := r.feed(ctx, job)
	if err != nil {
		r.fail(bg, job, err)
		return
	}
	if !done {
		r.stop(bg, job, checkpoint, context.Cause(ctx))
		return
	}

	res, err := r.engine.Complete(bg, job.ExamID)
	if err != nil {
		r.fail(bg, job, err)
		return
	}
	if err := r.store.UpdateJobStatus(bg, job.ID, store.JobCompleted, ""); err != nil {
		slog.Error("jobs: updating status", "job", job.ID, "error", err)
	}
	job.Status = store.JobCompleted
	slog.Info("jobs: completed", "job", job.ID, "exam", job.ExamID, "questions", len(res.Questions))
	if r.onComplete != nil {
		r.onComplete(job, res)
	}
}

// feed replays the stored fragments from the job checkpoint. It returns
// done = false with the resume checkpoint when ctx was cancelled first.
func (r *Runner) feed(ctx context.Context, job *store.Job) (checkpoint int, done bool, err error) {
	bg := context.WithoutCancel(ctx)
	blocks, err := r.store.LoadBlocks(bg, job.ExamID)
	if err != nil {
		return 0, false, fmt.Errorf("loading blocks: %w", err)
	}
	if err := r.store.DeleteQuestionsFrom(bg, job.ExamID, job.Checkpoint); err != nil {
		return 0, false, fmt.Errorf("clearing questions after checkpoint: %w", err)
	}
	position, err := r.store.CountQuestions(bg, job.ExamID)
	if err != nil {
		return 0, false, err
	}

	m := statemachine.New(r.attr)
	checkpoint = job.Checkpoint
	save := func(q *exam.ParsedQuestion) error {
		validate.Evaluate([]*exam.ParsedQuestion{q})
		if _, err := r.store.AppendQuestion(bg, job.ExamID, position, q, job.ID, m.Checkpoint()); err != nil {
			return fmt.Errorf("saving question %d: %w", q.Number, err)
		}
		position++
		return nil
	}

	for _, b := range blocks {
		if b.OrderIndex < job.Checkpoint {
			continue
		}
		if ctx.Err() != nil {
			return checkpoint, false, nil
		}
		for _, q := range m.Feed(b) {
			if err := save(q); err != nil {
				return 0, false, err
			}
		}
		checkpoint = m.Checkpoint()
	}
	if q := m.Finish(); q != nil {
		if err := save(q); err != nil {
			return 0, false, err
		}
	}
	return m.Checkpoint(), true, nil
}

// stop records a suspension. A runner shutdown pauses the job.
func (r *Runner) stop(ctx context.Context, job *store.Job, checkpoint int, cause error) {
	status := store.JobPaused
	if errors.Is(cause, errCancelRequested) {
		status = store.JobCancelled
	}
	if err := r.store.SetJobCheckpoint(ctx, job.ID, checkpoint); err != nil {
		slog.Error("jobs: saving checkpoint", "job", job.ID, "error", err)
	}
	if err := r.store.UpdateJobStatus(ctx, job.ID, status, ""); err != nil {
		slog.Error("jobs: updating status", "job", job.ID, "error", err)
	}
	if job.ExamID != 0 {
		examStatus, reason := store.ExamPaused, ""
		if status == store.JobCancelled {
			examStatus, reason = store.ExamFailed, "cancelled"
		}
		if err := r.store.UpdateExamStatus(ctx, job.ExamID, examStatus, reason); err != nil {
			slog.Error("jobs: updating exam status", "job", job.ID, "exam", job.ExamID, "error", err)
		}
	}
	job.Status = status
	job.Checkpoint = checkpoint
	slog.Info("jobs: stopped", "job", job.ID, "status", status, "checkpoint", checkpoint)
}

func (r *Runner) fail(ctx context.Context, job *store.Job, err error) {
	slog.Error("jobs: failed", "job", job.ID, "error", err)
	if uerr := r.store.UpdateJobStatus(ctx, job.ID, store.JobFailed, err.Error()); uerr != nil {
		slog.Error("jobs: updating status", "job", job.ID, "error", uerr)
	}
	if job.ExamID != 0 {
		if uerr := r.store.UpdateExamStatus(ctx, job.ExamID, store.ExamFailed, err.Error()); uerr != nil {
			slog.Error("jobs: updating exam status", "job", job.ID, "exam", job.ExamID, "error", uerr)
		}
	}
	job.Status = store.JobFailed
}
