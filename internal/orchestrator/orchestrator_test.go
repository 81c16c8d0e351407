package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dvtran/ytarchive/internal/collab"
	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage/memory"
	"github.com/dvtran/ytarchive/internal/recovery"
)

// =============================================================================
// Test harness
// =============================================================================

// fakeServices implements all three collaborator clients with injectable
// per-call behavior. The default is success for every call.
type fakeServices struct {
	mu        sync.Mutex
	metaCalls map[string]int
	dlCalls   map[string]int
	stCalls   map[string]int

	playlist      *domain.Playlist
	fetchVideoErr func(id string, call int) error
	downloadErr   func(id string, call int) error
	storeErr      func(id string, call int) error

	// downloadBlock, when set, makes Download park until ctx is done.
	downloadBlock chan struct{}
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		metaCalls: make(map[string]int),
		dlCalls:   make(map[string]int),
		stCalls:   make(map[string]int),
	}
}

func (f *fakeServices) FetchVideo(ctx context.Context, videoID string) (*domain.VideoMeta, error) {
	f.mu.Lock()
	f.metaCalls[videoID]++
	call := f.metaCalls[videoID]
	fn := f.fetchVideoErr
	f.mu.Unlock()

	if fn != nil {
		if err := fn(videoID, call); err != nil {
			return nil, err
		}
	}
	return &domain.VideoMeta{ID: videoID, Title: "video " + videoID}, nil
}

func (f *fakeServices) FetchPlaylist(ctx context.Context, playlistID string) (*domain.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playlist == nil {
		return nil, &collab.ServiceError{Service: "metadata", StatusCode: http.StatusNotFound, Message: "playlist not found"}
	}
	return f.playlist, nil
}

func (f *fakeServices) Download(ctx context.Context, videoID string, opts domain.JobOptions) (string, error) {
	f.mu.Lock()
	f.dlCalls[videoID]++
	call := f.dlCalls[videoID]
	fn := f.downloadErr
	block := f.downloadBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case block <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fn != nil {
		if err := fn(videoID, call); err != nil {
			return "", err
		}
	}
	return "/data/" + videoID + ".mp4", nil
}

func (f *fakeServices) Store(ctx context.Context, videoID, path string, meta *domain.VideoMeta) error {
	f.mu.Lock()
	f.stCalls[videoID]++
	call := f.stCalls[videoID]
	fn := f.storeErr
	f.mu.Unlock()

	if fn != nil {
		return fn(videoID, call)
	}
	return nil
}

type stubQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *stubQueue) EnqueueJob(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, jobID)
	return nil
}

type stubProgress struct {
	mu    sync.Mutex
	snaps []domain.Progress
}

func (p *stubProgress) PublishProgress(ctx context.Context, prog domain.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, prog)
}

func (p *stubProgress) last() (domain.Progress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snaps) == 0 {
		return domain.Progress{}, false
	}
	return p.snaps[len(p.snaps)-1], true
}

type env struct {
	orch  *Orchestrator
	jobs  *memory.JobRepo
	plan  *memory.PlanRepo
	fake  *fakeServices
	queue *stubQueue
	prog  *stubProgress
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	t.Helper()

	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)
	plan := memory.NewPlanRepo(store)

	cfg := DefaultConfig()
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.JitterFraction = 0
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := newFakeServices()
	queue := &stubQueue{}
	prog := &stubProgress{}

	orch, err := New(cfg, jobs, plan, recovery.NewManager(nil, logger),
		fake, fake, fake, prog, queue, logger)
	if err != nil {
		t.Fatalf("create orchestrator: %v", err)
	}
	return &env{orch: orch, jobs: jobs, plan: plan, fake: fake, queue: queue, prog: prog}
}

func serviceError(service string, code int, msg string) error {
	return &collab.ServiceError{Service: service, StatusCode: code, Message: msg}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestCreateJob(t *testing.T) {
	e := newEnv(t, nil)

	job, err := e.orch.CreateJob(context.Background(), domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
	if job.ID == "" {
		t.Error("expected generated id")
	}

	stored, err := e.jobs.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.Status != domain.JobStatusQueued {
		t.Errorf("persisted status = %s, want queued", stored.Status)
	}

	if len(e.queue.ids) != 1 || e.queue.ids[0] != job.ID {
		t.Errorf("job not enqueued, queue = %v", e.queue.ids)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	e := newEnv(t, nil)

	if _, err := e.orch.CreateJob(context.Background(), "bogus", domain.JobOptions{URL: "abc"}); err == nil {
		t.Error("expected error for unknown job type")
	}
	if _, err := e.orch.CreateJob(context.Background(), domain.JobTypeVideoDownload, domain.JobOptions{}); err == nil {
		t.Error("expected error for missing url")
	}
}

func TestTransitions(t *testing.T) {
	allowed := []struct{ from, to domain.JobStatus }{
		{domain.JobStatusCreated, domain.JobStatusQueued},
		{domain.JobStatusQueued, domain.JobStatusRunning},
		{domain.JobStatusQueued, domain.JobStatusCancelled},
		{domain.JobStatusRunning, domain.JobStatusRetrying},
		{domain.JobStatusRunning, domain.JobStatusCompleted},
		{domain.JobStatusRunning, domain.JobStatusFailed},
		{domain.JobStatusRetrying, domain.JobStatusRunning},
		{domain.JobStatusRetrying, domain.JobStatusCancelled},
	}
	for _, tr := range allowed {
		if !canTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s must be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to domain.JobStatus }{
		{domain.JobStatusCreated, domain.JobStatusRunning},
		{domain.JobStatusQueued, domain.JobStatusCompleted},
		{domain.JobStatusCompleted, domain.JobStatusRunning},
		{domain.JobStatusFailed, domain.JobStatusQueued},
		{domain.JobStatusCancelled, domain.JobStatusRunning},
		{domain.JobStatusRetrying, domain.JobStatusQueued},
	}
	for _, tr := range forbidden {
		if canTransition(tr.from, tr.to) {
			t.Errorf("%s -> %s must be forbidden", tr.from, tr.to)
		}
	}
}

// =============================================================================
// Execution
// =============================================================================

func TestExecuteJob_SingleVideoCompleted(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, err := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "https://www.youtube.com/watch?v=abc123"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if len(stored.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(stored.Results))
	}
	res := stored.Results[0]
	if res.ItemID != "abc123" || res.Status != domain.ItemStatusSuccess {
		t.Errorf("unexpected result: %+v", res)
	}
	if e.fake.dlCalls["abc123"] != 1 || e.fake.stCalls["abc123"] != 1 {
		t.Error("pipeline stages not each invoked once")
	}
}

func TestExecuteJob_NotQueued(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	err := e.orch.ExecuteJob(ctx, job.ID)
	if !errors.Is(err, ErrJobNotExecutable) {
		t.Errorf("expected ErrJobNotExecutable, got %v", err)
	}
}

func TestExecuteJob_TransientFailureRecovered(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	// The download succeeds on the third attempt.
	e.fake.downloadErr = func(id string, call int) error {
		if call < 3 {
			return serviceError("download", http.StatusServiceUnavailable, "timeout")
		}
		return nil
	}

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	res := stored.Results[0]
	if res.Status != domain.ItemStatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
	// One metadata attempt, two failed downloads plus the success, one
	// store attempt.
	if res.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", res.Attempts)
	}

	entries, _ := e.plan.List(ctx, "")
	if len(entries) != 0 {
		t.Errorf("recovered item must leave no plan entries, got %d", len(entries))
	}
}

func TestExecuteJob_PermanentFailureRecordsPlanEntry(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	e.fake.downloadErr = func(id string, call int) error {
		return serviceError("download", http.StatusUnprocessableEntity, "this video is private")
	}

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}
	if e.fake.dlCalls["abc123"] != 1 {
		t.Errorf("non-retryable failure must stop after 1 attempt, got %d", e.fake.dlCalls["abc123"])
	}

	entries, err := e.plan.List(ctx, domain.PlanEntryStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 plan entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ItemID != "abc123" || entry.JobID != job.ID {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Reason != string(recovery.ReasonResourceUnavailable) {
		t.Errorf("reason = %s, want resource_unavailable", entry.Reason)
	}
	if !entry.RetryAfter.IsZero() {
		t.Error("permanently unavailable item must carry no retry-after")
	}
}

func TestExecuteJob_ExhaustedItemGetsRetryAfter(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	e.fake.downloadErr = func(id string, call int) error {
		return serviceError("download", http.StatusBadGateway, "connection reset")
	}

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if got := e.fake.dlCalls["abc123"]; got != 3 {
		t.Errorf("expected 3 download attempts, got %d", got)
	}

	entries, _ := e.plan.List(ctx, domain.PlanEntryStatusPending)
	if len(entries) != 1 {
		t.Fatalf("expected 1 plan entry, got %d", len(entries))
	}
	if entries[0].RetryAfter.IsZero() {
		t.Error("exhausted item must carry a retry-after hint")
	}
}

func TestExecuteJob_SkipExistingConflict(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	e.fake.storeErr = func(id string, call int) error {
		return serviceError("storage", http.StatusConflict, "already archived")
	}

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload,
		domain.JobOptions{URL: "abc123", SkipExisting: true})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.Results[0].Status != domain.ItemStatusSkipped {
		t.Errorf("result = %+v, want skipped", stored.Results[0])
	}

	entries, _ := e.plan.List(ctx, "")
	if len(entries) != 0 {
		t.Errorf("skipped item must leave no plan entries, got %d", len(entries))
	}
}

func TestExecuteJob_MetadataOnly(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeMetadataOnly, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	if e.fake.dlCalls["abc123"] != 0 {
		t.Error("metadata-only job must not download")
	}
	if e.fake.stCalls["abc123"] != 1 {
		t.Error("metadata-only job still archives the metadata")
	}
}

// =============================================================================
// Cancellation
// =============================================================================

func TestCancelJob_Queued(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestCancelJob_Running(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	e.fake.downloadBlock = make(chan struct{}, 1)

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})

	done := make(chan error, 1)
	go func() {
		done <- e.orch.ExecuteJob(ctx, job.ID)
	}()

	<-e.fake.downloadBlock // the download is in flight
	if err := e.orch.CancelJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execute returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock the executor")
	}

	stored, _ := e.jobs.Get(ctx, job.ID)
	if stored.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestCancelJob_Terminal(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, _ := e.orch.CreateJob(ctx, domain.JobTypeVideoDownload, domain.JobOptions{URL: "abc123"})
	if err := e.orch.ExecuteJob(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	err := e.orch.CancelJob(ctx, job.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

// =============================================================================
// Recovery plan resubmission
// =============================================================================

func TestResubmitPlan(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &domain.RecoveryPlanEntry{
			ID:              fmt.Sprintf("entry-%d", i),
			JobID:           "job-old",
			ItemID:          fmt.Sprintf("video-%d", i),
			Reason:          string(recovery.ReasonResourceUnavailable),
			Status:          domain.PlanEntryStatusPending,
			FirstDetectedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := e.plan.Add(ctx, entry); err != nil {
			t.Fatal(err)
		}
	}

	jobs, err := e.orch.ResubmitPlan(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 resubmitted jobs, got %d", len(jobs))
	}
	for _, job := range jobs {
		if job.Status != domain.JobStatusQueued {
			t.Errorf("resubmitted job %s is %s, want queued", job.ID, job.Status)
		}
		if job.Type != domain.JobTypeVideoDownload {
			t.Errorf("resubmitted job type = %s", job.Type)
		}
	}

	pending, _ := e.plan.List(ctx, domain.PlanEntryStatusPending)
	if len(pending) != 0 {
		t.Errorf("expected no pending entries left, got %d", len(pending))
	}
	resubmitted, _ := e.plan.List(ctx, domain.PlanEntryStatusResubmitted)
	if len(resubmitted) != 3 {
		t.Errorf("expected 3 resubmitted entries, got %d", len(resubmitted))
	}
}

func TestResubmitPlan_SelectedIDs(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_ = e.plan.Add(ctx, &domain.RecoveryPlanEntry{
			ID:              id,
			JobID:           "job-old",
			ItemID:          "video-" + id,
			Status:          domain.PlanEntryStatusPending,
			FirstDetectedAt: time.Now(),
		})
	}

	jobs, err := e.orch.ResubmitPlan(ctx, []string{"a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	pending, _ := e.plan.List(ctx, domain.PlanEntryStatusPending)
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Errorf("entry b must remain pending, got %v", pending)
	}
}
