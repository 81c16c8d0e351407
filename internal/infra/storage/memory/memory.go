package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage"
)

// MemoryStorage backs all repositories with in-process maps. Used for
// db-less runs and tests.
type MemoryStorage struct {
	jobs    map[string]*domain.Job
	plan    map[string]*domain.RecoveryPlanEntry
	reports []*domain.ErrorReport
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[string]*domain.Job),
		plan: make(map[string]*domain.RecoveryPlanEntry),
	}
}

// -----------------------------------------------------------------------------
// Job Repository
// -----------------------------------------------------------------------------

type JobRepo struct {
	store *MemoryStorage
}

func NewJobRepo(store *MemoryStorage) *JobRepo {
	return &JobRepo{store: store}
}

func (r *JobRepo) Save(ctx context.Context, job *domain.Job) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *job
	copied.Results = append([]domain.JobResult(nil), job.Results...)
	r.store.jobs[job.ID] = &copied
	return nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	job, ok := r.store.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	copied := *job
	copied.Results = append([]domain.JobResult(nil), job.Results...)
	return &copied, nil
}

func (r *JobRepo) List(ctx context.Context, status domain.JobStatus) ([]*domain.Job, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.Job, 0, len(r.store.jobs))
	for _, job := range r.store.jobs {
		if status != "" && job.Status != status {
			continue
		}
		copied := *job
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *JobRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.jobs, id)
	return nil
}

// -----------------------------------------------------------------------------
// Plan Repository
// -----------------------------------------------------------------------------

type PlanRepo struct {
	store *MemoryStorage
}

func NewPlanRepo(store *MemoryStorage) *PlanRepo {
	return &PlanRepo{store: store}
}

func (r *PlanRepo) Add(ctx context.Context, entry *domain.RecoveryPlanEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *entry
	r.store.plan[entry.ID] = &copied
	return nil
}

func (r *PlanRepo) Get(ctx context.Context, id string) (*domain.RecoveryPlanEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	entry, ok := r.store.plan[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	copied := *entry
	return &copied, nil
}

func (r *PlanRepo) List(ctx context.Context, status domain.PlanEntryStatus) ([]*domain.RecoveryPlanEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.RecoveryPlanEntry, 0, len(r.store.plan))
	for _, entry := range r.store.plan {
		if status != "" && entry.Status != status {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstDetectedAt.Before(out[j].FirstDetectedAt)
	})
	return out, nil
}

func (r *PlanRepo) MarkResubmitted(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	entry, ok := r.store.plan[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	entry.Status = domain.PlanEntryStatusResubmitted
	return nil
}

// -----------------------------------------------------------------------------
// Report Repository
// -----------------------------------------------------------------------------

type ReportRepo struct {
	store *MemoryStorage
}

func NewReportRepo(store *MemoryStorage) *ReportRepo {
	return &ReportRepo{store: store}
}

func (r *ReportRepo) Add(ctx context.Context, report *domain.ErrorReport) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *report
	r.store.reports = append(r.store.reports, &copied)
	return nil
}

func (r *ReportRepo) List(ctx context.Context, limit int) ([]*domain.ErrorReport, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := len(r.store.reports)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*domain.ErrorReport, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		copied := *r.store.reports[i]
		out = append(out, &copied)
	}
	return out, nil
}
