package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvtran/ytarchive/internal/collab"
	"github.com/dvtran/ytarchive/internal/core/domain"
	"github.com/dvtran/ytarchive/internal/metrics"
	"github.com/dvtran/ytarchive/internal/recovery"
)

// run resolves the job into its work items and executes them.
func (o *Orchestrator) run(ctx context.Context, job *domain.Job) ([]domain.JobResult, error) {
	switch job.Type {
	case domain.JobTypePlaylistDownload:
		playlistID := itemID(job.Options.URL)

		var playlist *domain.Playlist
		ectx := recovery.NewContext("metadata.fetch_playlist", playlistID)
		err := o.manager.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			p, err := o.meta.FetchPlaylist(ctx, playlistID)
			if err != nil {
				return err
			}
			playlist = p
			return nil
		}, ectx, o.metaStrategy, o.metaHandler)
		if err != nil {
			return nil, err
		}

		items := make([]string, 0, len(playlist.Videos))
		for _, v := range playlist.Videos {
			items = append(items, v.ID)
		}
		o.log.Info("Resolved playlist", "job", job.ID, "playlist", playlistID, "videos", len(items))
		return o.runBatch(ctx, job, items), nil

	default:
		return o.runBatch(ctx, job, []string{itemID(job.Options.URL)}), nil
	}
}

// runBatch processes items chunk by chunk. Within a chunk up to C items
// run concurrently, each under its own recovery context; the chunk drains
// completely before the next one starts. Progress is emitted per chunk,
// not per item, to avoid update storms on large collections.
func (o *Orchestrator) runBatch(ctx context.Context, job *domain.Job, items []string) []domain.JobResult {
	n := len(items)
	c := o.concurrencyFor(n)
	k := o.chunkSizeFor(n)
	o.log.Info("Starting batch", "job", job.ID, "items", n, "concurrency", c, "chunk_size", k)

	results := make([]domain.JobResult, 0, n)
	var mu sync.Mutex

	for start := 0; start < n; start += k {
		// Cancellation stops dispatching new chunks.
		if ctx.Err() != nil {
			break
		}

		end := start + k
		if end > n {
			end = n
		}

		if job.Status == domain.JobStatusRetrying {
			_ = o.transition(ctx, job, domain.JobStatusRunning)
		}

		var retried atomic.Bool
		var g errgroup.Group
		g.SetLimit(c)
		for _, id := range items[start:end] {
			g.Go(func() error {
				res := o.processItem(ctx, job, id)
				if res.Attempts > 1 {
					retried.Store(true)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				metrics.ItemsTotal.WithLabelValues(string(res.Status)).Inc()
				return nil
			})
		}
		_ = g.Wait()

		if retried.Load() && ctx.Err() == nil {
			_ = o.transition(ctx, job, domain.JobStatusRetrying)
		}
		o.emitProgress(ctx, job, n, results)
	}
	return results
}

// processItem drives one video through the collaborator pipeline:
// metadata fetch, then (unless metadata-only) download, then archival.
// Every stage is an independent recovery operation.
func (o *Orchestrator) processItem(ctx context.Context, job *domain.Job, id string) domain.JobResult {
	start := time.Now()
	attempts := 0

	fail := func(err error) domain.JobResult {
		res := domain.JobResult{
			ItemID:   id,
			Status:   domain.ItemStatusFailed,
			Attempts: attempts,
			Elapsed:  time.Since(start),
		}
		var terr *recovery.TerminalError
		if errors.As(err, &terr) {
			res.ErrorCode = string(terr.Reason)
			o.recordPlanEntry(job, id, terr)
		} else {
			res.ErrorCode = err.Error()
		}
		return res
	}

	// Metadata
	var meta *domain.VideoMeta
	ectx := recovery.NewContext("metadata.fetch_video", id)
	err := o.manager.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		m, err := o.meta.FetchVideo(ctx, id)
		if err != nil {
			return err
		}
		meta = m
		return nil
	}, ectx, o.metaStrategy, o.metaHandler)
	attempts += consumed(ectx, err)
	if err != nil {
		return fail(err)
	}

	var path string
	if job.Type != domain.JobTypeMetadataOnly {
		// Download
		ectx = recovery.NewContext("download.video", id)
		err = o.manager.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			p, err := o.dl.Download(ctx, id, job.Options)
			if err != nil {
				return err
			}
			path = p
			return nil
		}, ectx, o.dlStrategy, o.dlHandler)
		attempts += consumed(ectx, err)
		if err != nil {
			return fail(err)
		}
	}

	// Archive
	ectx = recovery.NewContext("storage.store", id)
	err = o.manager.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		return o.store.Store(ctx, id, path, meta)
	}, ectx, o.storeStrategy, o.storeHandler)
	attempts += consumed(ectx, err)
	if err != nil {
		if job.Options.SkipExisting && isAlreadyArchived(err) {
			return domain.JobResult{
				ItemID:   id,
				Status:   domain.ItemStatusSkipped,
				Attempts: attempts,
				Elapsed:  time.Since(start),
			}
		}
		return fail(err)
	}

	return domain.JobResult{
		ItemID:   id,
		Status:   domain.ItemStatusSuccess,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

// consumed counts the attempts a recovery call used: the recorded
// failures plus the final successful invocation.
func consumed(ectx *recovery.ErrorContext, err error) int {
	if err != nil {
		return ectx.AttemptCount()
	}
	return ectx.AttemptCount() + 1
}

// recordPlanEntry writes the durable recovery-plan record for a
// permanently failed item. Exhausted items get a retry-after hint;
// permanently unavailable ones are left for manual inspection.
func (o *Orchestrator) recordPlanEntry(job *domain.Job, id string, terr *recovery.TerminalError) {
	entry := &domain.RecoveryPlanEntry{
		ID:              uuid.New().String(),
		JobID:           job.ID,
		ItemID:          id,
		Reason:          string(terr.Reason),
		Status:          domain.PlanEntryStatusPending,
		FirstDetectedAt: time.Now(),
	}
	if terr.Exhausted() {
		entry.RetryAfter = time.Now().Add(1 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.plan.Add(ctx, entry); err != nil {
		o.log.Error("Failed to record recovery plan entry", "job", job.ID, "item", id, "error", err)
	}
}

func (o *Orchestrator) emitProgress(ctx context.Context, job *domain.Job, total int, results []domain.JobResult) {
	done, failed, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case domain.ItemStatusFailed:
			failed++
		case domain.ItemStatusSkipped:
			skipped++
		default:
			done++
		}
	}

	job.Results = results
	job.UpdatedAt = time.Now()
	if ctx.Err() == nil {
		if err := o.jobs.Save(ctx, job); err != nil {
			o.log.Error("Failed to save job progress", "job", job.ID, "error", err)
		}
	}

	if o.progress != nil {
		o.progress.PublishProgress(ctx, domain.Progress{
			JobID:     job.ID,
			Total:     total,
			Done:      done,
			Failed:    failed,
			Skipped:   skipped,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func (o *Orchestrator) concurrencyFor(n int) int {
	c := o.cfg.Concurrency
	if c <= 0 {
		c = 3
	}
	if n > o.cfg.LargeThreshold && o.cfg.LargeConcurrency > c {
		c = o.cfg.LargeConcurrency
	}
	return c
}

func (o *Orchestrator) chunkSizeFor(n int) int {
	k := n / 10
	if k < o.cfg.MinChunk {
		k = o.cfg.MinChunk
	}
	if k > o.cfg.MaxChunk {
		k = o.cfg.MaxChunk
	}
	return k
}

// isAlreadyArchived reports whether the storage service rejected the item
// because it is already present.
func isAlreadyArchived(err error) bool {
	var se *collab.ServiceError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

// itemID extracts the video or playlist id from a YouTube URL, accepting
// bare ids as-is.
func itemID(raw string) string {
	if !strings.Contains(raw, "/") && !strings.Contains(raw, "=") {
		return raw
	}
	for _, param := range []string{"list=", "v="} {
		if i := strings.Index(raw, param); i >= 0 {
			rest := raw[i+len(param):]
			if j := strings.IndexAny(rest, "&#"); j >= 0 {
				rest = rest[:j]
			}
			return rest
		}
	}
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return strings.SplitN(raw[i+1:], "?", 2)[0]
	}
	return raw
}
