package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/infra/storage/memory"
	"github.com/dvtran/ytarchive/internal/orchestrator"
	"github.com/dvtran/ytarchive/internal/recovery"
)

type fakeMeta struct{}

func (fakeMeta) FetchVideo(ctx context.Context, id string) (*domain.VideoMeta, error) {
	return &domain.VideoMeta{ID: id}, nil
}

func (fakeMeta) FetchPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	return &domain.Playlist{ID: id}, nil
}

type fakeDL struct{}

func (fakeDL) Download(ctx context.Context, id string, opts domain.JobOptions) (string, error) {
	return "/data/" + id + ".mp4", nil
}

type fakeStore struct{}

func (fakeStore) Store(ctx context.Context, id, path string, meta *domain.VideoMeta) error {
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *memory.PlanRepo) {
	t.Helper()

	store := memory.NewMemoryStorage()
	jobs := memory.NewJobRepo(store)
	plan := memory.NewPlanRepo(store)
	reports := memory.NewReportRepo(store)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := orchestrator.DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond

	orch, err := orchestrator.New(cfg, jobs, plan, recovery.NewManager(nil, logger),
		fakeMeta{}, fakeDL{}, fakeStore{}, nil, nil, logger)
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(orch, plan, reports, 0, logger)
	srv := httptest.NewServer(s.server.Handler)
	t.Cleanup(srv.Close)
	return srv, plan
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", map[string]any{
		"type":    "video_download",
		"options": map[string]any{"url": "abc123"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created domain.Job
	decode(t, resp, &created)
	if created.Status != domain.JobStatusQueued {
		t.Errorf("job status = %s, want queued", created.Status)
	}

	getResp, err := http.Get(srv.URL + "/jobs/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	var fetched domain.Job
	decode(t, getResp, &fetched)
	if fetched.ID != created.ID {
		t.Errorf("fetched id = %s, want %s", fetched.ID, created.ID)
	}
}

func TestCreateJob_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", map[string]any{"type": "bogus", "options": map[string]any{"url": "x"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/jobs/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteAndListJobs(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", map[string]any{
		"type":    "video_download",
		"options": map[string]any{"url": "abc123"},
	})
	var created domain.Job
	decode(t, resp, &created)

	execResp := postJSON(t, srv.URL+"/jobs/"+created.ID+"/execute", nil)
	defer execResp.Body.Close()
	if execResp.StatusCode != http.StatusAccepted {
		t.Fatalf("execute status = %d, want 202", execResp.StatusCode)
	}

	// Execution is async; wait for the terminal state.
	deadline := time.Now().Add(2 * time.Second)
	for {
		getResp, err := http.Get(srv.URL + "/jobs/" + created.ID)
		if err != nil {
			t.Fatal(err)
		}
		var job domain.Job
		decode(t, getResp, &job)
		if job.Status.Terminal() {
			if job.Status != domain.JobStatusCompleted {
				t.Fatalf("job finished %s, want completed", job.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", job.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	listResp, err := http.Get(srv.URL + "/jobs?status=completed")
	if err != nil {
		t.Fatal(err)
	}
	var jobs []domain.Job
	decode(t, listResp, &jobs)
	if len(jobs) != 1 {
		t.Errorf("expected 1 completed job, got %d", len(jobs))
	}
}

func TestCancelJob_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/jobs", map[string]any{
		"type":    "video_download",
		"options": map[string]any{"url": "abc123"},
	})
	var created domain.Job
	decode(t, resp, &created)

	first := postJSON(t, srv.URL+"/jobs/"+created.ID+"/cancel", nil)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", first.StatusCode)
	}

	second := postJSON(t, srv.URL+"/jobs/"+created.ID+"/cancel", nil)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("cancelling a terminal job: status = %d, want 409", second.StatusCode)
	}
}

func TestResubmitEndpoint(t *testing.T) {
	srv, plan := newTestServer(t)

	_ = plan.Add(context.Background(), &domain.RecoveryPlanEntry{
		ID:              "entry-1",
		JobID:           "job-old",
		ItemID:          "video-1",
		Status:          domain.PlanEntryStatusPending,
		FirstDetectedAt: time.Now(),
	})

	resp := postJSON(t, srv.URL+"/plan/resubmit", map[string]any{"ids": []string{"entry-1"}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("resubmit status = %d", resp.StatusCode)
	}
	var jobs []domain.Job
	decode(t, resp, &jobs)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	planResp, err := http.Get(srv.URL + "/plan?status=resubmitted")
	if err != nil {
		t.Fatal(err)
	}
	var entries []domain.RecoveryPlanEntry
	decode(t, planResp, &entries)
	if len(entries) != 1 {
		t.Errorf("expected 1 resubmitted entry, got %d", len(entries))
	}
}

func TestHealthAndRecoveries(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	decode(t, resp, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	recResp, err := http.Get(srv.URL + "/recoveries")
	if err != nil {
		t.Fatal(err)
	}
	var recs []recovery.RecoveryOperation
	decode(t, recResp, &recs)
	if len(recs) != 0 {
		t.Errorf("expected no active recoveries, got %d", len(recs))
	}
}
