// Package orchestrator owns the job lifecycle state machine and the
// bounded-concurrency batch engine that drives downstream collaborators
// through the recovery manager.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvtran/ytarchive/internal/collab"
	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
	"github.com/dvtran/ytarchive/internal/metrics"
	"github.com/dvtran/ytarchive/internal/recovery"
)

var (
	// ErrInvalidTransition is returned for a job status change the state
	// machine forbids.
	ErrInvalidTransition = errors.New("invalid job transition")

	// ErrJobNotExecutable is returned when ExecuteJob is called on a job
	// that is not queued.
	ErrJobNotExecutable = errors.New("job is not queued")
)

// ProgressPublisher emits batched progress snapshots. Implementations
// must be cheap and non-blocking; a nil publisher disables emission.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, p domain.Progress)
}

// JobQueue makes queued jobs durable across restarts. A nil queue keeps
// queued jobs in the database only.
type JobQueue interface {
	EnqueueJob(ctx context.Context, jobID string) error
}

// Config holds orchestrator tuning.
type Config struct {
	// Concurrency is the per-chunk worker bound, raised to
	// LargeConcurrency for collections above LargeThreshold items.
	Concurrency      int
	LargeConcurrency int
	LargeThreshold   int

	// Chunk size bounds; the effective size is derived from the
	// collection size within [MinChunk, MaxChunk].
	MinChunk int
	MaxChunk int

	// Retention is how long terminal jobs are kept before the sweep
	// deletes them. Zero disables the sweep.
	Retention time.Duration

	Retry recovery.RetryConfig

	// Per-collaborator strategy names (see recovery.NewStrategy).
	MetadataStrategy string
	DownloadStrategy string
	StorageStrategy  string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      3,
		LargeConcurrency: 5,
		LargeThreshold:   100,
		MinChunk:         10,
		MaxChunk:         50,
		Retention:        7 * 24 * time.Hour,
		Retry:            recovery.DefaultRetryConfig,
		MetadataStrategy: "exponential_backoff",
		DownloadStrategy: "adaptive",
		StorageStrategy:  "circuit_breaker",
	}
}

// Orchestrator drives jobs end to end: lifecycle transitions, the batch
// engine, recovery-plan bookkeeping, and cancellation.
type Orchestrator struct {
	cfg     Config
	jobs    storage.JobRepository
	plan    storage.PlanRepository
	manager *recovery.Manager
	log     *slog.Logger

	meta  collab.MetadataClient
	dl    collab.DownloadClient
	store collab.StorageClient

	metaHandler  recovery.ServiceErrorHandler
	dlHandler    recovery.ServiceErrorHandler
	storeHandler recovery.ServiceErrorHandler

	metaStrategy  recovery.RetryStrategy
	dlStrategy    recovery.RetryStrategy
	storeStrategy recovery.RetryStrategy

	progress ProgressPublisher
	queue    JobQueue

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates an orchestrator. The progress publisher may be nil.
func New(
	cfg Config,
	jobs storage.JobRepository,
	plan storage.PlanRepository,
	manager *recovery.Manager,
	meta collab.MetadataClient,
	dl collab.DownloadClient,
	store collab.StorageClient,
	progress ProgressPublisher,
	queue JobQueue,
	log *slog.Logger,
) (*Orchestrator, error) {
	if log == nil {
		log = slog.Default()
	}

	metaStrategy, err := recovery.NewStrategy(cfg.MetadataStrategy, cfg.Retry)
	if err != nil {
		return nil, err
	}
	dlStrategy, err := recovery.NewStrategy(cfg.DownloadStrategy, cfg.Retry)
	if err != nil {
		return nil, err
	}
	storeStrategy, err := recovery.NewStrategy(cfg.StorageStrategy, cfg.Retry)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:           cfg,
		jobs:          jobs,
		plan:          plan,
		manager:       manager,
		log:           log,
		meta:          meta,
		dl:            dl,
		store:         store,
		metaHandler:   &collab.MetadataErrorHandler{},
		dlHandler:     &collab.DownloadErrorHandler{},
		storeHandler:  &collab.StorageErrorHandler{},
		metaStrategy:  metaStrategy,
		dlStrategy:    dlStrategy,
		storeStrategy: storeStrategy,
		progress:      progress,
		queue:         queue,
		cancels:       make(map[string]context.CancelFunc),
	}, nil
}

// CreateJob validates the request, persists the job and queues it.
func (o *Orchestrator) CreateJob(ctx context.Context, jobType domain.JobType, opts domain.JobOptions) (*domain.Job, error) {
	switch jobType {
	case domain.JobTypeVideoDownload, domain.JobTypePlaylistDownload, domain.JobTypeMetadataOnly:
	default:
		return nil, fmt.Errorf("unknown job type: %q", jobType)
	}
	if opts.URL == "" {
		return nil, errors.New("job requires a url")
	}

	now := time.Now()
	job := &domain.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    domain.JobStatusCreated,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	if err := o.transition(ctx, job, domain.JobStatusQueued); err != nil {
		return nil, err
	}
	if o.queue != nil {
		if err := o.queue.EnqueueJob(ctx, job.ID); err != nil {
			o.log.Error("Failed to enqueue job", "job", job.ID, "error", err)
		}
	}
	return job, nil
}

// GetJob retrieves a job by id.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return o.jobs.Get(ctx, id)
}

// ListJobs retrieves jobs, optionally filtered by status.
func (o *Orchestrator) ListJobs(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	return o.jobs.List(ctx, status)
}

// ExecuteJob runs a queued job to a terminal status. It blocks until the
// job finishes or is cancelled; callers wanting async execution run it in
// a goroutine.
func (o *Orchestrator) ExecuteJob(ctx context.Context, id string) error {
	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		return fmt.Errorf("%w: %s is %s", ErrJobNotExecutable, id, job.Status)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, job.ID)
		o.mu.Unlock()
	}()

	if err := o.transition(ctx, job, domain.JobStatusRunning); err != nil {
		return err
	}
	o.log.Info("Executing job", "job", job.ID, "type", job.Type)

	results, runErr := o.run(jobCtx, job)
	job.Results = results

	// Cancellation wins over any partial outcome, but completed results
	// are kept.
	if jobCtx.Err() != nil {
		return o.finish(job, domain.JobStatusCancelled, "")
	}
	if runErr != nil {
		return o.finish(job, domain.JobStatusFailed, runErr.Error())
	}

	failed := 0
	for _, r := range results {
		if r.Status == domain.ItemStatusFailed {
			failed++
		}
	}

	switch {
	case failed == 0:
		return o.finish(job, domain.JobStatusCompleted, "")
	case job.Type == domain.JobTypePlaylistDownload && !job.Options.FailFast:
		// Batch jobs complete with partial results; every permanent
		// failure is traceable through the recovery plan.
		return o.finish(job, domain.JobStatusCompleted, fmt.Sprintf("%d of %d items failed", failed, len(results)))
	default:
		return o.finish(job, domain.JobStatusFailed, fmt.Sprintf("%d of %d items failed", failed, len(results)))
	}
}

// CancelJob cancels a job. Running jobs have their in-flight retries and
// backoff sleeps aborted; queued jobs transition directly.
func (o *Orchestrator) CancelJob(ctx context.Context, id string) error {
	o.mu.Lock()
	cancel, running := o.cancels[id]
	o.mu.Unlock()

	if running {
		// The executor performs the CANCELLED transition exactly once.
		cancel()
		return nil
	}

	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, job.Status)
	}
	return o.finish(job, domain.JobStatusCancelled, "")
}

// ResubmitPlan creates fresh download jobs for pending recovery-plan
// entries and marks them resubmitted. Empty ids means all pending.
func (o *Orchestrator) ResubmitPlan(ctx context.Context, ids []string) ([]*domain.Job, error) {
	var entries []*domain.RecoveryPlanEntry
	if len(ids) == 0 {
		all, err := o.plan.List(ctx, domain.PlanEntryStatusPending)
		if err != nil {
			return nil, err
		}
		entries = all
	} else {
		for _, id := range ids {
			entry, err := o.plan.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if entry.Status == domain.PlanEntryStatusPending {
				entries = append(entries, entry)
			}
		}
	}

	jobs := make([]*domain.Job, 0, len(entries))
	for _, entry := range entries {
		job, err := o.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: entry.ItemID})
		if err != nil {
			return jobs, err
		}
		if err := o.plan.MarkResubmitted(ctx, entry.ID); err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ActiveRecoveries exposes the manager's in-flight snapshot.
func (o *Orchestrator) ActiveRecoveries() []recovery.RecoveryOperation {
	return o.manager.ActiveRecoveries()
}

// validTransitions encodes the lifecycle state machine. Terminal states
// are absorbing; the only backward edge is RETRYING→RUNNING.
var validTransitions = map[domain.JobStatus][]domain.JobStatus{
	domain.JobStatusCreated:  {domain.JobStatusQueued, domain.JobStatusCancelled},
	domain.JobStatusQueued:   {domain.JobStatusRunning, domain.JobStatusCancelled},
	domain.JobStatusRunning:  {domain.JobStatusRetrying, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled},
	domain.JobStatusRetrying: {domain.JobStatusRunning, domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled},
}

func canTransition(from, to domain.JobStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition applies a validated status change and persists it.
func (o *Orchestrator) transition(ctx context.Context, job *domain.Job, to domain.JobStatus) error {
	o.mu.Lock()
	if !canTransition(job.Status, to) {
		from := job.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	job.Status = to
	job.UpdatedAt = time.Now()
	o.mu.Unlock()

	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// finish applies a terminal status exactly once and records metrics.
// Persistence uses a background context so a cancelled job context
// cannot lose the final state.
func (o *Orchestrator) finish(job *domain.Job, status domain.JobStatus, msg string) error {
	o.mu.Lock()
	if job.Status.Terminal() {
		o.mu.Unlock()
		return nil
	}
	job.Status = status
	job.Error = msg
	job.UpdatedAt = time.Now()
	o.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(job.Type), string(status)).Inc()
	o.log.Info("Job finished", "job", job.ID, "status", status, "items", len(job.Results))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}
